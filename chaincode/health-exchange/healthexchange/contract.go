package healthexchange

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/healthex/dlt-exchange/pkg/exchange"
	"github.com/healthex/dlt-exchange/pkg/types"
)

// Chaincode event names.
const (
	AccessGrantedEvent      = "AccessGranted"
	AccessRevokedEvent      = "AccessRevoked"
	AccessNotificationEvent = "DataAccessNotification"
)

// SmartContract exposes the consent-gated health data exchange on a Fabric
// channel. The caller principal is the invoking client identity and
// timestamps come from the transaction timestamp, so every peer computes the
// same state transition.
type SmartContract struct {
	contractapi.Contract
}

// stubState adapts the chaincode stub to the ledger's State interface.
// GetState already returns (nil, nil) for absent keys.
type stubState struct {
	stub shim.ChaincodeStubInterface
}

func (s stubState) Get(key string) ([]byte, error) {
	return s.stub.GetState(key)
}

func (s stubState) Put(key string, value []byte) error {
	return s.stub.PutState(key, value)
}

func (s stubState) Delete(key string) error {
	return s.stub.DelState(key)
}

// ledgerFor builds a ledger bound to the current transaction and returns it
// with the invoking principal.
func (s *SmartContract) ledgerFor(ctx contractapi.TransactionContextInterface) (*exchange.Ledger, string, error) {
	caller, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read client identity: %w", err)
	}
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read transaction timestamp: %w", err)
	}
	txTime := ts.AsTime()

	stub := ctx.GetStub()
	ledger := exchange.New(stubState{stub: stub},
		exchange.WithClock(func() time.Time { return txTime }),
		exchange.WithNotifier(func(n exchange.AccessNotification) {
			payload, err := json.Marshal(n)
			if err != nil {
				return
			}
			// Event delivery is best effort; the access entry itself is
			// already committed to the trail.
			_ = stub.SetEvent(AccessNotificationEvent, payload)
		}),
	)
	return ledger, caller, nil
}

func (s *SmartContract) emitGrantEvent(ctx contractapi.TransactionContextInterface, name, owner, grantee string) error {
	payload, err := json.Marshal(map[string]string{"owner": owner, "grantee": grantee})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", name, err)
	}
	return ctx.GetStub().SetEvent(name, payload)
}

// InitLedger records the deploying principal as the exchange administrator.
func (s *SmartContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return err
	}
	return ledger.Init(caller)
}

// GetAdministrator returns the administrator principal.
func (s *SmartContract) GetAdministrator(ctx contractapi.TransactionContextInterface) (string, error) {
	ledger, _, err := s.ledgerFor(ctx)
	if err != nil {
		return "", err
	}
	return ledger.Admin()
}

// StoreData creates the caller's patient record. The data reference is a
// hex-encoded 32-byte content hash.
func (s *SmartContract) StoreData(ctx contractapi.TransactionContextInterface, dataRef, recordType string, version uint64) error {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return err
	}
	ref, err := types.ParseContentRef(dataRef)
	if err != nil {
		return types.NewInvalidInputError(caller, err.Error())
	}
	return ledger.StoreData(caller, ref, recordType, version)
}

// UpdateData replaces the caller's data reference and bumps the version.
func (s *SmartContract) UpdateData(ctx contractapi.TransactionContextInterface, newDataRef string) error {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return err
	}
	ref, err := types.ParseContentRef(newDataRef)
	if err != nil {
		return types.NewInvalidInputError(caller, err.Error())
	}
	return ledger.UpdateData(caller, ref)
}

// GetRecord returns the record owned by the given principal.
func (s *SmartContract) GetRecord(ctx contractapi.TransactionContextInterface, owner string) (*types.PatientRecord, error) {
	ledger, _, err := s.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.Record(owner)
}

// GrantAccess authorizes the grantee to read the caller's record.
func (s *SmartContract) GrantAccess(ctx contractapi.TransactionContextInterface, grantee string) error {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return err
	}
	if err := ledger.GrantAccess(caller, grantee); err != nil {
		return err
	}
	return s.emitGrantEvent(ctx, AccessGrantedEvent, caller, grantee)
}

// RevokeAccess removes the grantee's authorization.
func (s *SmartContract) RevokeAccess(ctx contractapi.TransactionContextInterface, grantee string) error {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return err
	}
	if err := ledger.RevokeAccess(caller, grantee); err != nil {
		return err
	}
	return s.emitGrantEvent(ctx, AccessRevokedEvent, caller, grantee)
}

// CheckAccess reports whether the (owner, grantee) relation exists.
func (s *SmartContract) CheckAccess(ctx contractapi.TransactionContextInterface, owner, grantee string) (bool, error) {
	ledger, _, err := s.ledgerFor(ctx)
	if err != nil {
		return false, err
	}
	return ledger.CheckAccess(owner, grantee)
}

// SetConsentPreferences replaces the caller's consent flags.
func (s *SmartContract) SetConsentPreferences(ctx contractapi.TransactionContextInterface, allowAnonymousResearch, allowIdentifiableResearch, notifyOnAccess bool) error {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return err
	}
	return ledger.SetConsentPreferences(caller, types.ConsentPreferences{
		AllowAnonymousResearch:    allowAnonymousResearch,
		AllowIdentifiableResearch: allowIdentifiableResearch,
		NotifyOnAccess:            notifyOnAccess,
	})
}

// GetConsentPreferences returns the patient's consent flags.
func (s *SmartContract) GetConsentPreferences(ctx contractapi.TransactionContextInterface, patient string) (*types.ConsentPreferences, error) {
	ledger, _, err := s.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	prefs, err := ledger.ConsentPreferences(patient)
	if err != nil {
		return nil, err
	}
	return &prefs, nil
}

// RegisterProviderCredentials upserts the caller's credential, unverified.
func (s *SmartContract) RegisterProviderCredentials(ctx contractapi.TransactionContextInterface, institutionName, credentialHash string) error {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return err
	}
	hash, err := types.ParseContentRef(credentialHash)
	if err != nil {
		return types.NewInvalidInputError(caller, err.Error())
	}
	return ledger.RegisterProviderCredentials(caller, institutionName, hash)
}

// VerifyProviderCredentials marks a provider as verified. Administrator only.
func (s *SmartContract) VerifyProviderCredentials(ctx contractapi.TransactionContextInterface, provider string) error {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return err
	}
	return ledger.VerifyProviderCredentials(caller, provider)
}

// GetProviderCredential returns a provider's registered credential.
func (s *SmartContract) GetProviderCredential(ctx contractapi.TransactionContextInterface, provider string) (*types.ProviderCredential, error) {
	ledger, _, err := s.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.ProviderCredential(provider)
}

// SubmitResearchProposal creates a proposal owned by the caller.
func (s *SmartContract) SubmitResearchProposal(ctx contractapi.TransactionContextInterface, proposalID uint64, title, description string, dataFields []string, fundingAmount uint64) error {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return err
	}
	return ledger.SubmitResearchProposal(caller, proposalID, title, description, dataFields, fundingAmount)
}

// ApproveResearchProposal approves a submitted proposal. Administrator only.
func (s *SmartContract) ApproveResearchProposal(ctx contractapi.TransactionContextInterface, researcher string, proposalID uint64) error {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return err
	}
	return ledger.ApproveResearchProposal(caller, researcher, proposalID)
}

// RejectResearchProposal rejects a submitted proposal. Administrator only.
func (s *SmartContract) RejectResearchProposal(ctx contractapi.TransactionContextInterface, researcher string, proposalID uint64) error {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return err
	}
	return ledger.RejectResearchProposal(caller, researcher, proposalID)
}

// GetResearchProposal returns the proposal keyed by (researcher, proposalID).
func (s *SmartContract) GetResearchProposal(ctx contractapi.TransactionContextInterface, researcher string, proposalID uint64) (*types.ResearchProposal, error) {
	ledger, _, err := s.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.ResearchProposal(researcher, proposalID)
}

// LogDataAccess appends an access event to the patient's audit trail and
// returns its sequence number.
func (s *SmartContract) LogDataAccess(ctx contractapi.TransactionContextInterface, patient, accessor string, fieldsAccessed []string, purpose string) (uint64, error) {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return 0, err
	}
	return ledger.LogDataAccess(caller, patient, accessor, fieldsAccessed, purpose)
}

// RequestDataAccess evaluates the caller's right to access the patient's
// record, logs the authorized request, and returns its sequence number.
func (s *SmartContract) RequestDataAccess(ctx contractapi.TransactionContextInterface, patient string, fieldsRequested []string, purpose string) (uint64, error) {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return 0, err
	}
	return ledger.RequestDataAccess(caller, patient, fieldsRequested, purpose)
}

// RecordResearchContribution records a use of the caller's data by the given
// researcher and returns the issued reward amount.
func (s *SmartContract) RecordResearchContribution(ctx contractapi.TransactionContextInterface, researcher string) (uint64, error) {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return 0, err
	}
	return ledger.RecordResearchContribution(caller, researcher)
}

// GetContribution returns the (patient, researcher) contribution record.
func (s *SmartContract) GetContribution(ctx contractapi.TransactionContextInterface, patient, researcher string) (*types.ContributionRecord, error) {
	ledger, _, err := s.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.Contribution(patient, researcher)
}

// GetRewardBalance returns the patient's cumulative issued rewards.
func (s *SmartContract) GetRewardBalance(ctx contractapi.TransactionContextInterface, patient string) (uint64, error) {
	ledger, _, err := s.ledgerFor(ctx)
	if err != nil {
		return 0, err
	}
	return ledger.RewardBalance(patient)
}

// GetAuditTrail returns the patient's access events in append order. The
// caller must be the patient or the administrator.
func (s *SmartContract) GetAuditTrail(ctx contractapi.TransactionContextInterface, patient string) ([]types.DataAccessLogEntry, error) {
	ledger, caller, err := s.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.AuditTrail(caller, patient)
}
