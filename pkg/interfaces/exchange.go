package interfaces

import (
	"context"

	"github.com/healthex/dlt-exchange/pkg/types"
)

// Exchange is the full operation surface of the consent-gated ledger.
// *exchange.Ledger implements it; service code depends on this interface so
// tests can substitute the ledger.
type Exchange interface {
	Init(caller string) error
	Admin() (string, error)

	StoreData(caller string, dataRef types.ContentRef, recordType string, version uint64) error
	UpdateData(caller string, newDataRef types.ContentRef) error
	Record(owner string) (*types.PatientRecord, error)

	GrantAccess(caller, grantee string) error
	RevokeAccess(caller, grantee string) error
	CheckAccess(owner, grantee string) (bool, error)

	SetConsentPreferences(caller string, prefs types.ConsentPreferences) error
	ConsentPreferences(patient string) (types.ConsentPreferences, error)

	RegisterProviderCredentials(caller, institutionName string, credentialHash types.ContentRef) error
	VerifyProviderCredentials(caller, provider string) error
	ProviderCredential(provider string) (*types.ProviderCredential, error)

	SubmitResearchProposal(caller string, proposalID uint64, title, description string, dataFields []string, fundingAmount uint64) error
	ApproveResearchProposal(caller, researcher string, proposalID uint64) error
	RejectResearchProposal(caller, researcher string, proposalID uint64) error
	ResearchProposal(researcher string, proposalID uint64) (*types.ResearchProposal, error)

	LogDataAccess(caller, patient, accessor string, fields []string, purpose string) (uint64, error)
	RequestDataAccess(caller, patient string, fields []string, purpose string) (uint64, error)
	AuditTrail(caller, patient string) ([]types.DataAccessLogEntry, error)

	RecordResearchContribution(caller, researcher string) (uint64, error)
	Contribution(patient, researcher string) (*types.ContributionRecord, error)
	RewardBalance(patient string) (uint64, error)
}

// AuditRepository mirrors committed audit entries into a queryable off-chain
// store. The ledger state stays canonical; the repository is a read model.
type AuditRepository interface {
	SaveEntry(ctx context.Context, entry *types.DataAccessLogEntry) error
	EntriesForPatient(ctx context.Context, patient string) ([]types.DataAccessLogEntry, error)
}
