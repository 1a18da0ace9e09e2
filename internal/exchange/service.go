package exchange

import (
	"context"
	"time"

	core "github.com/healthex/dlt-exchange/pkg/exchange"
	"github.com/healthex/dlt-exchange/pkg/interfaces"
	"github.com/healthex/dlt-exchange/pkg/logger"
	"github.com/healthex/dlt-exchange/pkg/monitoring"
	"github.com/healthex/dlt-exchange/pkg/types"
)

// Service orchestrates ledger operations for the HTTP surface. It records
// operation metrics and mirrors committed access events into the off-chain
// audit read model when one is configured.
type Service struct {
	ledger  interfaces.Exchange
	audit   interfaces.AuditRepository
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
	now     func() time.Time
}

// NewService creates the exchange service. The audit repository may be nil
// when no off-chain read model is configured.
func NewService(ledger interfaces.Exchange, audit interfaces.AuditRepository, log *logger.Logger, metrics *monitoring.MetricsCollector) *Service {
	return &Service{
		ledger:  ledger,
		audit:   audit,
		logger:  log,
		metrics: metrics,
		now:     time.Now,
	}
}

func (s *Service) recordOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = string(types.KindOf(err))
	}
	s.metrics.RecordOperation(operation, status)
}

// HandleNotification is the ledger's notify-on-access sink.
func (s *Service) HandleNotification(n core.AccessNotification) {
	s.metrics.RecordAccessNotification()
	s.logger.WithFields(map[string]interface{}{
		"patient":  n.Patient,
		"accessor": n.Accessor,
		"sequence": n.Sequence,
	}).Info("Access notification emitted")
}

// mirrorEntry copies a committed access event into the read model. Mirror
// failures are logged, never surfaced: the ledger state stays canonical.
func (s *Service) mirrorEntry(ctx context.Context, entry *types.DataAccessLogEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.SaveEntry(ctx, entry); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"sequence": entry.Sequence,
			"patient":  entry.Patient,
			"error":    err,
		}).Warn("Failed to mirror audit entry to read model")
	}
}

// StoreData creates the caller's patient record.
func (s *Service) StoreData(caller string, dataRef types.ContentRef, recordType string, version uint64) error {
	err := s.ledger.StoreData(caller, dataRef, recordType, version)
	s.recordOperation("store_data", err)
	return err
}

// UpdateData replaces the caller's data reference.
func (s *Service) UpdateData(caller string, newDataRef types.ContentRef) error {
	err := s.ledger.UpdateData(caller, newDataRef)
	s.recordOperation("update_data", err)
	return err
}

// Record returns the patient record for an owner.
func (s *Service) Record(owner string) (*types.PatientRecord, error) {
	return s.ledger.Record(owner)
}

// GrantAccess authorizes the grantee to read the caller's record.
func (s *Service) GrantAccess(caller, grantee string) error {
	err := s.ledger.GrantAccess(caller, grantee)
	s.recordOperation("grant_access", err)
	return err
}

// RevokeAccess removes the grantee's authorization.
func (s *Service) RevokeAccess(caller, grantee string) error {
	err := s.ledger.RevokeAccess(caller, grantee)
	s.recordOperation("revoke_access", err)
	return err
}

// CheckAccess reports whether the (owner, grantee) relation exists.
func (s *Service) CheckAccess(owner, grantee string) (bool, error) {
	return s.ledger.CheckAccess(owner, grantee)
}

// SetConsentPreferences replaces the caller's consent flags.
func (s *Service) SetConsentPreferences(caller string, prefs types.ConsentPreferences) error {
	err := s.ledger.SetConsentPreferences(caller, prefs)
	s.recordOperation("set_consent_preferences", err)
	return err
}

// ConsentPreferences returns the patient's consent flags.
func (s *Service) ConsentPreferences(patient string) (types.ConsentPreferences, error) {
	return s.ledger.ConsentPreferences(patient)
}

// RegisterProviderCredentials upserts the caller's credential, unverified.
func (s *Service) RegisterProviderCredentials(caller, institutionName string, credentialHash types.ContentRef) error {
	err := s.ledger.RegisterProviderCredentials(caller, institutionName, credentialHash)
	s.recordOperation("register_provider_credentials", err)
	return err
}

// VerifyProviderCredentials marks a provider as verified.
func (s *Service) VerifyProviderCredentials(caller, provider string) error {
	err := s.ledger.VerifyProviderCredentials(caller, provider)
	s.recordOperation("verify_provider_credentials", err)
	return err
}

// ProviderCredential returns a provider's registered credential.
func (s *Service) ProviderCredential(provider string) (*types.ProviderCredential, error) {
	return s.ledger.ProviderCredential(provider)
}

// SubmitResearchProposal creates a proposal owned by the caller.
func (s *Service) SubmitResearchProposal(caller string, proposalID uint64, title, description string, dataFields []string, fundingAmount uint64) error {
	err := s.ledger.SubmitResearchProposal(caller, proposalID, title, description, dataFields, fundingAmount)
	s.recordOperation("submit_research_proposal", err)
	return err
}

// ApproveResearchProposal approves a submitted proposal.
func (s *Service) ApproveResearchProposal(caller, researcher string, proposalID uint64) error {
	err := s.ledger.ApproveResearchProposal(caller, researcher, proposalID)
	s.recordOperation("approve_research_proposal", err)
	return err
}

// RejectResearchProposal rejects a submitted proposal.
func (s *Service) RejectResearchProposal(caller, researcher string, proposalID uint64) error {
	err := s.ledger.RejectResearchProposal(caller, researcher, proposalID)
	s.recordOperation("reject_research_proposal", err)
	return err
}

// ResearchProposal returns the proposal keyed by (researcher, proposalID).
func (s *Service) ResearchProposal(researcher string, proposalID uint64) (*types.ResearchProposal, error) {
	return s.ledger.ResearchProposal(researcher, proposalID)
}

// LogDataAccess appends an access event to the audit trail and mirrors it
// into the read model.
func (s *Service) LogDataAccess(ctx context.Context, caller, patient, accessor string, fields []string, purpose string) (uint64, error) {
	seq, err := s.ledger.LogDataAccess(caller, patient, accessor, fields, purpose)
	s.recordOperation("log_data_access", err)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordAuditEntry("log_data_access")
	s.mirrorEntry(ctx, &types.DataAccessLogEntry{
		Sequence:       seq,
		Patient:        patient,
		Accessor:       accessor,
		FieldsAccessed: fields,
		Purpose:        purpose,
		Timestamp:      s.now(),
	})
	return seq, nil
}

// RequestDataAccess evaluates the caller's right to access the patient's
// record, logs the authorized request, and mirrors it into the read model.
func (s *Service) RequestDataAccess(ctx context.Context, caller, patient string, fields []string, purpose string) (uint64, error) {
	seq, err := s.ledger.RequestDataAccess(caller, patient, fields, purpose)
	s.recordOperation("request_data_access", err)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordAuditEntry("request_data_access")
	s.mirrorEntry(ctx, &types.DataAccessLogEntry{
		Sequence:       seq,
		Patient:        patient,
		Accessor:       caller,
		FieldsAccessed: fields,
		Purpose:        purpose,
		Timestamp:      s.now(),
	})
	return seq, nil
}

// AuditTrail returns the patient's access events from the canonical ledger.
func (s *Service) AuditTrail(caller, patient string) ([]types.DataAccessLogEntry, error) {
	return s.ledger.AuditTrail(caller, patient)
}

// OffchainAuditTrail serves the patient's access events from the read model,
// applying the same authorization rule as the canonical trail.
func (s *Service) OffchainAuditTrail(ctx context.Context, caller, patient string) ([]types.DataAccessLogEntry, error) {
	if s.audit == nil {
		return nil, types.NewNotFoundError(patient, "no off-chain audit read model is configured")
	}
	if caller != patient {
		admin, err := s.ledger.Admin()
		if err != nil {
			return nil, err
		}
		if caller != admin {
			return nil, types.NewUnauthorizedError(patient, "audit trail is readable by the patient and the administrator")
		}
	}
	return s.audit.EntriesForPatient(ctx, patient)
}

// RecordResearchContribution records a data use and returns the issued
// reward.
func (s *Service) RecordResearchContribution(caller, researcher string) (uint64, error) {
	reward, err := s.ledger.RecordResearchContribution(caller, researcher)
	s.recordOperation("record_research_contribution", err)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordRewardIssued(reward)
	return reward, nil
}

// Contribution returns the (patient, researcher) contribution record.
func (s *Service) Contribution(patient, researcher string) (*types.ContributionRecord, error) {
	return s.ledger.Contribution(patient, researcher)
}

// RewardBalance returns the patient's cumulative issued rewards.
func (s *Service) RewardBalance(patient string) (uint64, error) {
	return s.ledger.RewardBalance(patient)
}
