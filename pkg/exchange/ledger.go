package exchange

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/healthex/dlt-exchange/pkg/logger"
	"github.com/healthex/dlt-exchange/pkg/rewards"
	"github.com/healthex/dlt-exchange/pkg/types"
)

// identifiableFields are the field names whose presence in a research request
// makes the request identifiable and therefore subject to the stricter
// consent flag.
var identifiableFields = map[string]struct{}{
	"name":          {},
	"date_of_birth": {},
	"address":       {},
	"national_id":   {},
	"contact":       {},
	"email":         {},
	"phone":         {},
}

// AccessNotification is emitted after an access event is recorded for a
// patient whose notify-on-access consent flag is set.
type AccessNotification struct {
	Patient  string   `json:"patient"`
	Accessor string   `json:"accessor"`
	Fields   []string `json:"fields"`
	Purpose  string   `json:"purpose"`
	Sequence uint64   `json:"sequence"`
}

// Ledger is the consent-gated exchange state machine. Every operation takes
// the authenticated caller principal explicitly and applies a single atomic
// transition over the underlying State.
type Ledger struct {
	state    State
	locks    keyLocks
	schedule rewards.Schedule
	now      func() time.Time
	notify   func(AccessNotification)
	log      *logger.Logger

	// auditMu serializes sequence-number assignment across all patients.
	auditMu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source. The hosting runtime supplies a
// stable clock (transaction timestamp on chain, wall clock in the service).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithSchedule overrides the reward schedule policy.
func WithSchedule(s rewards.Schedule) Option {
	return func(l *Ledger) { l.schedule = s }
}

// WithNotifier registers the sink for access notifications.
func WithNotifier(fn func(AccessNotification)) Option {
	return func(l *Ledger) { l.notify = fn }
}

// WithLogger overrides the default logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates a Ledger over the given state backend.
func New(state State, opts ...Option) *Ledger {
	l := &Ledger{
		state:    state,
		schedule: rewards.Default(),
		now:      time.Now,
		log:      logger.New("exchange", "info"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// getJSON reads and decodes a state entry. The boolean reports existence.
func (l *Ledger) getJSON(key string, v interface{}) (bool, error) {
	raw, err := l.state.Get(key)
	if err != nil {
		return false, types.NewInternalError(key, "state read failed", err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, types.NewInternalError(key, "state entry is corrupt", err)
	}
	return true, nil
}

func (l *Ledger) putJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return types.NewInternalError(key, "state entry encoding failed", err)
	}
	if err := l.state.Put(key, raw); err != nil {
		return types.NewInternalError(key, "state write failed", err)
	}
	return nil
}

// Init records the caller as the administrator principal. The first caller
// becomes the administrator; repeated initialization by the same principal is
// a no-op, by anyone else it is unauthorized.
func (l *Ledger) Init(caller string) error {
	if caller == "" {
		return types.NewInvalidInputError(adminKey, "caller principal is required")
	}
	mu := l.locks.acquire(adminKey)
	defer mu.Unlock()

	var admin string
	found, err := l.getJSON(adminKey, &admin)
	if err != nil {
		return err
	}
	if found {
		if admin == caller {
			return nil
		}
		return types.NewUnauthorizedError(adminKey, "exchange is already initialized by a different principal")
	}
	if err := l.putJSON(adminKey, caller); err != nil {
		return err
	}
	l.log.Audit(caller, "init", adminKey, true, nil)
	return nil
}

// Admin returns the administrator principal recorded at initialization.
func (l *Ledger) Admin() (string, error) {
	var admin string
	found, err := l.getJSON(adminKey, &admin)
	if err != nil {
		return "", err
	}
	if !found {
		return "", types.NewNotFoundError(adminKey, "exchange is not initialized")
	}
	return admin, nil
}

func (l *Ledger) requireAdmin(caller, key string) error {
	admin, err := l.Admin()
	if err != nil {
		return err
	}
	if caller != admin {
		return types.NewUnauthorizedError(key, "caller is not the administrator")
	}
	return nil
}

// StoreData creates the caller's patient record. Each patient owns exactly
// one record; a second store attempt fails.
func (l *Ledger) StoreData(caller string, dataRef types.ContentRef, recordType string, version uint64) error {
	if caller == "" {
		return types.NewInvalidInputError(recordKey(caller), "caller principal is required")
	}
	if recordType == "" {
		return types.NewInvalidInputError(recordKey(caller), "record type is required")
	}
	mu := l.locks.acquire(caller)
	defer mu.Unlock()

	key := recordKey(caller)
	var existing types.PatientRecord
	found, err := l.getJSON(key, &existing)
	if err != nil {
		return err
	}
	if found {
		return types.NewAlreadyExistsError(key, "patient already owns a record")
	}
	record := types.PatientRecord{
		Owner:         caller,
		DataReference: dataRef,
		RecordType:    recordType,
		Version:       version,
		UpdatedAt:     l.now(),
	}
	if err := l.putJSON(key, &record); err != nil {
		return err
	}
	l.log.Audit(caller, "store_data", key, true, map[string]interface{}{"record_type": recordType, "version": version})
	return nil
}

// UpdateData replaces the caller's data reference and increments the record
// version in the same transition.
func (l *Ledger) UpdateData(caller string, newDataRef types.ContentRef) error {
	mu := l.locks.acquire(caller)
	defer mu.Unlock()

	key := recordKey(caller)
	var record types.PatientRecord
	found, err := l.getJSON(key, &record)
	if err != nil {
		return err
	}
	if !found {
		return types.NewNotFoundError(key, "no record exists for caller")
	}
	record.DataReference = newDataRef
	record.Version++
	record.UpdatedAt = l.now()
	if err := l.putJSON(key, &record); err != nil {
		return err
	}
	l.log.Audit(caller, "update_data", key, true, map[string]interface{}{"version": record.Version})
	return nil
}

// Record returns the patient record owned by the given principal.
func (l *Ledger) Record(owner string) (*types.PatientRecord, error) {
	key := recordKey(owner)
	var record types.PatientRecord
	found, err := l.getJSON(key, &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NewNotFoundError(key, "no record exists for owner")
	}
	return &record, nil
}

// GrantAccess inserts the (caller, grantee) access relation. Granting twice
// leaves the original grant in place.
func (l *Ledger) GrantAccess(caller, grantee string) error {
	if grantee == "" {
		return types.NewInvalidInputError(grantKey(caller, grantee), "grantee principal is required")
	}
	mu := l.locks.acquire(caller)
	defer mu.Unlock()

	key := grantKey(caller, grantee)
	var existing types.AccessGrant
	found, err := l.getJSON(key, &existing)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	grant := types.AccessGrant{
		Owner:     caller,
		Grantee:   grantee,
		GrantedAt: l.now(),
	}
	if err := l.putJSON(key, &grant); err != nil {
		return err
	}
	l.log.Audit(caller, "grant_access", key, true, map[string]interface{}{"grantee": grantee})
	return nil
}

// RevokeAccess removes the (caller, grantee) relation. Revoking an absent
// grant succeeds.
func (l *Ledger) RevokeAccess(caller, grantee string) error {
	mu := l.locks.acquire(caller)
	defer mu.Unlock()

	key := grantKey(caller, grantee)
	if err := l.state.Delete(key); err != nil {
		return types.NewInternalError(key, "state delete failed", err)
	}
	l.log.Audit(caller, "revoke_access", key, true, map[string]interface{}{"grantee": grantee})
	return nil
}

// CheckAccess reports whether the (owner, grantee) relation exists. Absence
// is the default state, not an error.
func (l *Ledger) CheckAccess(owner, grantee string) (bool, error) {
	var grant types.AccessGrant
	found, err := l.getJSON(grantKey(owner, grantee), &grant)
	if err != nil {
		return false, err
	}
	return found, nil
}

// SetConsentPreferences replaces all of the caller's consent flags in one
// transition. Always succeeds for a valid principal.
func (l *Ledger) SetConsentPreferences(caller string, prefs types.ConsentPreferences) error {
	if caller == "" {
		return types.NewInvalidInputError(consentKey(caller), "caller principal is required")
	}
	mu := l.locks.acquire(caller)
	defer mu.Unlock()

	key := consentKey(caller)
	if err := l.putJSON(key, &prefs); err != nil {
		return err
	}
	l.log.Audit(caller, "set_consent_preferences", key, true, map[string]interface{}{
		"allow_anonymous_research":    prefs.AllowAnonymousResearch,
		"allow_identifiable_research": prefs.AllowIdentifiableResearch,
		"notify_on_access":            prefs.NotifyOnAccess,
	})
	return nil
}

// ConsentPreferences returns the patient's consent flags. Before the patient
// ever sets them, all flags are false.
func (l *Ledger) ConsentPreferences(patient string) (types.ConsentPreferences, error) {
	var prefs types.ConsentPreferences
	if _, err := l.getJSON(consentKey(patient), &prefs); err != nil {
		return types.ConsentPreferences{}, err
	}
	return prefs, nil
}

// RegisterProviderCredentials upserts the caller's credential with
// verified=false. Re-registering a verified provider resets verification, so
// changed credentials must be re-attested.
func (l *Ledger) RegisterProviderCredentials(caller, institutionName string, credentialHash types.ContentRef) error {
	if caller == "" {
		return types.NewInvalidInputError(credentialKey(caller), "caller principal is required")
	}
	if institutionName == "" {
		return types.NewInvalidInputError(credentialKey(caller), "institution name is required")
	}
	mu := l.locks.acquire(caller)
	defer mu.Unlock()

	key := credentialKey(caller)
	credential := types.ProviderCredential{
		Provider:        caller,
		InstitutionName: institutionName,
		CredentialHash:  credentialHash,
		Verified:        false,
		RegisteredAt:    l.now(),
	}
	if err := l.putJSON(key, &credential); err != nil {
		return err
	}
	l.log.Audit(caller, "register_provider_credentials", key, true, map[string]interface{}{"institution": institutionName})
	return nil
}

// VerifyProviderCredentials marks a registered provider as verified.
// Administrator only.
func (l *Ledger) VerifyProviderCredentials(caller, provider string) error {
	key := credentialKey(provider)
	if err := l.requireAdmin(caller, key); err != nil {
		return err
	}
	mu := l.locks.acquire(provider)
	defer mu.Unlock()

	var credential types.ProviderCredential
	found, err := l.getJSON(key, &credential)
	if err != nil {
		return err
	}
	if !found {
		return types.NewNotFoundError(key, "provider never registered credentials")
	}
	if credential.Verified {
		return nil
	}
	credential.Verified = true
	if err := l.putJSON(key, &credential); err != nil {
		return err
	}
	l.log.Audit(caller, "verify_provider_credentials", key, true, map[string]interface{}{"provider": provider})
	return nil
}

// ProviderCredential returns a provider's registered credential.
func (l *Ledger) ProviderCredential(provider string) (*types.ProviderCredential, error) {
	key := credentialKey(provider)
	var credential types.ProviderCredential
	found, err := l.getJSON(key, &credential)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NewNotFoundError(key, "provider never registered credentials")
	}
	return &credential, nil
}

// SubmitResearchProposal creates a proposal in the submitted state keyed by
// (caller, proposalID). Re-submission with an existing id is rejected, never
// overwritten.
func (l *Ledger) SubmitResearchProposal(caller string, proposalID uint64, title, description string, dataFields []string, fundingAmount uint64) error {
	key := proposalKey(caller, proposalID)
	if caller == "" {
		return types.NewInvalidInputError(key, "caller principal is required")
	}
	if title == "" {
		return types.NewInvalidInputError(key, "proposal title is required")
	}
	if len(dataFields) == 0 {
		return types.NewInvalidInputError(key, "proposal must request at least one data field")
	}
	mu := l.locks.acquire(caller)
	defer mu.Unlock()

	var existing types.ResearchProposal
	found, err := l.getJSON(key, &existing)
	if err != nil {
		return err
	}
	if found {
		return types.NewAlreadyExistsError(key, "proposal id already used by this researcher")
	}
	proposal := types.ResearchProposal{
		Researcher:    caller,
		ProposalID:    proposalID,
		Title:         title,
		Description:   description,
		DataFields:    dataFields,
		FundingAmount: fundingAmount,
		Status:        types.ProposalSubmitted,
		SubmittedAt:   l.now(),
	}
	if err := l.putJSON(key, &proposal); err != nil {
		return err
	}
	l.log.Audit(caller, "submit_research_proposal", key, true, map[string]interface{}{"title": title, "funding": fundingAmount})
	return nil
}

// ApproveResearchProposal transitions a submitted proposal to approved.
// Administrator only; terminal states admit no further transitions.
func (l *Ledger) ApproveResearchProposal(caller, researcher string, proposalID uint64) error {
	return l.decideProposal(caller, researcher, proposalID, types.ProposalApproved)
}

// RejectResearchProposal transitions a submitted proposal to rejected.
// Administrator only; terminal states admit no further transitions.
func (l *Ledger) RejectResearchProposal(caller, researcher string, proposalID uint64) error {
	return l.decideProposal(caller, researcher, proposalID, types.ProposalRejected)
}

func (l *Ledger) decideProposal(caller, researcher string, proposalID uint64, decision types.ProposalStatus) error {
	key := proposalKey(researcher, proposalID)
	if err := l.requireAdmin(caller, key); err != nil {
		return err
	}
	mu := l.locks.acquire(researcher)
	defer mu.Unlock()

	var proposal types.ResearchProposal
	found, err := l.getJSON(key, &proposal)
	if err != nil {
		return err
	}
	if !found {
		return types.NewNotFoundError(key, "proposal does not exist")
	}
	if proposal.Status.Terminal() {
		return types.NewInvalidStateError(key, "proposal was already decided")
	}
	decidedAt := l.now()
	proposal.Status = decision
	proposal.DecidedAt = &decidedAt
	if err := l.putJSON(key, &proposal); err != nil {
		return err
	}
	l.log.Audit(caller, "decide_research_proposal", key, true, map[string]interface{}{"status": string(decision)})
	return nil
}

// ResearchProposal returns the proposal keyed by (researcher, proposalID).
func (l *Ledger) ResearchProposal(researcher string, proposalID uint64) (*types.ResearchProposal, error) {
	key := proposalKey(researcher, proposalID)
	var proposal types.ResearchProposal
	found, err := l.getJSON(key, &proposal)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NewNotFoundError(key, "proposal does not exist")
	}
	return &proposal, nil
}

// LogDataAccess appends an access event to the audit trail and returns its
// sequence number. This operation is deliberately permissive: the
// authorization decision was made upstream, and the trail must be able to
// record every event, including ones callers choose to log after denial.
func (l *Ledger) LogDataAccess(caller, patient, accessor string, fields []string, purpose string) (uint64, error) {
	if patient == "" || accessor == "" {
		return 0, types.NewInvalidInputError(auditCountKey(patient), "patient and accessor principals are required")
	}
	if len(fields) == 0 {
		return 0, types.NewInvalidInputError(auditCountKey(patient), "at least one accessed field is required")
	}
	seq, err := l.appendAccess(patient, accessor, fields, purpose)
	if err != nil {
		return 0, err
	}
	l.log.Audit(caller, "log_data_access", auditEntryKey(patient, seq), true, map[string]interface{}{"accessor": accessor})
	return seq, nil
}

// RequestDataAccess evaluates whether the caller may access the patient's
// record and logs the authorized request. Verified providers pass through the
// credential gate; callers without a registered credential are treated as
// researchers and pass through the patient's consent flags. Gating of actual
// data release is the hosting system's responsibility.
func (l *Ledger) RequestDataAccess(caller, patient string, fields []string, purpose string) (uint64, error) {
	key := recordKey(patient)
	if caller == "" {
		return 0, types.NewInvalidInputError(key, "caller principal is required")
	}
	if len(fields) == 0 {
		return 0, types.NewInvalidInputError(key, "at least one requested field is required")
	}
	var record types.PatientRecord
	found, err := l.getJSON(key, &record)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, types.NewNotFoundError(key, "no record exists for patient")
	}

	if caller != patient {
		if err := l.authorizeAccess(caller, patient, fields); err != nil {
			return 0, err
		}
	}

	seq, err := l.appendAccess(patient, caller, fields, purpose)
	if err != nil {
		return 0, err
	}
	l.log.Audit(caller, "request_data_access", auditEntryKey(patient, seq), true, map[string]interface{}{"patient": patient})
	return seq, nil
}

// authorizeAccess applies the provider or researcher gate for a third-party
// access request.
func (l *Ledger) authorizeAccess(caller, patient string, fields []string) error {
	var credential types.ProviderCredential
	registered, err := l.getJSON(credentialKey(caller), &credential)
	if err != nil {
		return err
	}
	if registered {
		if !credential.Verified {
			return types.NewUnverifiedError(credentialKey(caller), "provider credentials are not verified")
		}
		return nil
	}

	granted, err := l.CheckAccess(patient, caller)
	if err != nil {
		return err
	}
	if granted {
		return nil
	}

	prefs, err := l.ConsentPreferences(patient)
	if err != nil {
		return err
	}
	if containsIdentifiable(fields) {
		if !prefs.AllowIdentifiableResearch {
			return types.NewUnauthorizedError(consentKey(patient), "patient has not consented to identifiable research use")
		}
		return nil
	}
	if !prefs.AllowAnonymousResearch {
		return types.NewUnauthorizedError(consentKey(patient), "patient has not consented to anonymous research use")
	}
	return nil
}

func containsIdentifiable(fields []string) bool {
	for _, f := range fields {
		if _, ok := identifiableFields[f]; ok {
			return true
		}
	}
	return false
}

// appendAccess assigns the next global sequence number, stores the entry in
// the patient's trail, and fires the notification sink when the patient asked
// to be notified. Sequence assignment is the only globally serialized step.
func (l *Ledger) appendAccess(patient, accessor string, fields []string, purpose string) (uint64, error) {
	l.auditMu.Lock()
	defer l.auditMu.Unlock()

	var seq uint64
	if _, err := l.getJSON(auditSeqKey, &seq); err != nil {
		return 0, err
	}
	seq++

	var count uint64
	if _, err := l.getJSON(auditCountKey(patient), &count); err != nil {
		return 0, err
	}

	entry := types.DataAccessLogEntry{
		Sequence:       seq,
		Patient:        patient,
		Accessor:       accessor,
		FieldsAccessed: fields,
		Purpose:        purpose,
		Timestamp:      l.now(),
	}
	if err := l.putJSON(auditEntryKey(patient, count), &entry); err != nil {
		return 0, err
	}
	if err := l.putJSON(auditCountKey(patient), count+1); err != nil {
		return 0, err
	}
	if err := l.putJSON(auditSeqKey, seq); err != nil {
		return 0, err
	}

	if l.notify != nil {
		prefs, err := l.ConsentPreferences(patient)
		if err != nil {
			return 0, err
		}
		if prefs.NotifyOnAccess {
			l.notify(AccessNotification{
				Patient:  patient,
				Accessor: accessor,
				Fields:   fields,
				Purpose:  purpose,
				Sequence: seq,
			})
		}
	}
	return seq, nil
}

// AuditTrail returns the patient's access events in append order. Readable by
// the patient themselves and by the administrator.
func (l *Ledger) AuditTrail(caller, patient string) ([]types.DataAccessLogEntry, error) {
	if caller != patient {
		if err := l.requireAdmin(caller, auditCountKey(patient)); err != nil {
			return nil, err
		}
	}

	var count uint64
	if _, err := l.getJSON(auditCountKey(patient), &count); err != nil {
		return nil, err
	}
	entries := make([]types.DataAccessLogEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		var entry types.DataAccessLogEntry
		found, err := l.getJSON(auditEntryKey(patient, i), &entry)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, types.NewInternalError(auditEntryKey(patient, i), "audit trail entry is missing", nil)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RecordResearchContribution increments the caller's contribution count for
// the given researcher and issues the scheduled reward. Successive rewards
// for the same pair strictly increase.
func (l *Ledger) RecordResearchContribution(caller, researcher string) (uint64, error) {
	key := contributionKey(caller, researcher)
	if caller == "" || researcher == "" {
		return 0, types.NewInvalidInputError(key, "patient and researcher principals are required")
	}
	mu := l.locks.acquire(caller)
	defer mu.Unlock()

	contribution := types.ContributionRecord{
		Patient:    caller,
		Researcher: researcher,
	}
	if _, err := l.getJSON(key, &contribution); err != nil {
		return 0, err
	}

	contribution.ContributionCount++
	reward := l.schedule.Amount(contribution.ContributionCount)
	contribution.LastReward = reward
	contribution.TotalRewards += reward
	contribution.UpdatedAt = l.now()
	if err := l.putJSON(key, &contribution); err != nil {
		return 0, err
	}

	var balance uint64
	if _, err := l.getJSON(balanceKey(caller), &balance); err != nil {
		return 0, err
	}
	if err := l.putJSON(balanceKey(caller), balance+reward); err != nil {
		return 0, err
	}

	l.log.Audit(caller, "record_research_contribution", key, true, map[string]interface{}{
		"researcher": researcher,
		"count":      contribution.ContributionCount,
		"reward":     reward,
	})
	return reward, nil
}

// Contribution returns the (patient, researcher) contribution record.
func (l *Ledger) Contribution(patient, researcher string) (*types.ContributionRecord, error) {
	key := contributionKey(patient, researcher)
	var contribution types.ContributionRecord
	found, err := l.getJSON(key, &contribution)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NewNotFoundError(key, "no contributions recorded for this pair")
	}
	return &contribution, nil
}

// RewardBalance returns the patient's cumulative issued rewards. Zero before
// any contribution.
func (l *Ledger) RewardBalance(patient string) (uint64, error) {
	var balance uint64
	if _, err := l.getJSON(balanceKey(patient), &balance); err != nil {
		return 0, err
	}
	return balance, nil
}
