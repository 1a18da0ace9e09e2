package types

import (
	"encoding/hex"
	"fmt"
	"time"
)

// ContentRefSize is the size of an opaque content reference in bytes.
const ContentRefSize = 32

// ContentRef is a fixed-size opaque reference to externally stored content
// (an encrypted record payload, a credential document). The exchange never
// interprets it.
type ContentRef [ContentRefSize]byte

// ParseContentRef decodes a hex string (with optional 0x prefix) into a
// ContentRef. The input must decode to exactly ContentRefSize bytes.
func ParseContentRef(s string) (ContentRef, error) {
	var ref ContentRef
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ref, fmt.Errorf("invalid content reference encoding: %w", err)
	}
	if len(b) != ContentRefSize {
		return ref, fmt.Errorf("content reference must be %d bytes, got %d", ContentRefSize, len(b))
	}
	copy(ref[:], b)
	return ref, nil
}

// String returns the hex encoding of the reference.
func (r ContentRef) String() string {
	return hex.EncodeToString(r[:])
}

// IsZero reports whether the reference is all zero bytes.
func (r ContentRef) IsZero() bool {
	return r == ContentRef{}
}

// MarshalText implements encoding.TextMarshaler so references serialize as hex
// in JSON payloads and world state.
func (r ContentRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ContentRef) UnmarshalText(text []byte) error {
	ref, err := ParseContentRef(string(text))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// PatientRecord holds a patient's current data reference and its metadata.
// Exactly one record per patient principal.
type PatientRecord struct {
	Owner         string     `json:"owner"`
	DataReference ContentRef `json:"data_reference"`
	RecordType    string     `json:"record_type"`
	Version       uint64     `json:"version"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AccessGrant is the (owner, grantee) authorization relation. Its existence
// means the grantee may read the owner's record; absence is the default state.
type AccessGrant struct {
	Owner     string    `json:"owner"`
	Grantee   string    `json:"grantee"`
	GrantedAt time.Time `json:"granted_at"`
}

// ConsentPreferences are the patient-controlled flags gating research use.
// The zero value (all false) is the default before the patient ever sets them.
type ConsentPreferences struct {
	AllowAnonymousResearch    bool `json:"allow_anonymous_research"`
	AllowIdentifiableResearch bool `json:"allow_identifiable_research"`
	NotifyOnAccess            bool `json:"notify_on_access"`
}

// ProviderCredential is a provider's declared institutional credential.
// Verified flips to true only through administrative verification and resets
// to false whenever the provider re-registers.
type ProviderCredential struct {
	Provider        string     `json:"provider"`
	InstitutionName string     `json:"institution_name"`
	CredentialHash  ContentRef `json:"credential_hash"`
	Verified        bool       `json:"verified"`
	RegisteredAt    time.Time  `json:"registered_at"`
}

// ProposalStatus is the research proposal workflow state.
type ProposalStatus string

const (
	ProposalSubmitted ProposalStatus = "submitted"
	ProposalApproved  ProposalStatus = "approved"
	ProposalRejected  ProposalStatus = "rejected"
)

// Terminal reports whether no further transition is permitted.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalApproved || s == ProposalRejected
}

// ResearchProposal is a researcher's request to use specified data fields,
// keyed by (researcher, proposal id).
type ResearchProposal struct {
	Researcher    string         `json:"researcher"`
	ProposalID    uint64         `json:"proposal_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	DataFields    []string       `json:"data_fields"`
	FundingAmount uint64         `json:"funding_amount"`
	Status        ProposalStatus `json:"status"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	DecidedAt     *time.Time     `json:"decided_at,omitempty"`
}

// DataAccessLogEntry is one append-only audit trail entry. Entries are never
// mutated or deleted; Sequence is assigned monotonically at append time.
type DataAccessLogEntry struct {
	Sequence       uint64    `json:"sequence"`
	Patient        string    `json:"patient"`
	Accessor       string    `json:"accessor"`
	FieldsAccessed []string  `json:"fields_accessed"`
	Purpose        string    `json:"purpose"`
	Timestamp      time.Time `json:"timestamp"`
}

// ContributionRecord tracks how often a patient's data has been used by a
// researcher, keyed by (patient, researcher).
type ContributionRecord struct {
	Patient           string    `json:"patient"`
	Researcher        string    `json:"researcher"`
	ContributionCount uint64    `json:"contribution_count"`
	LastReward        uint64    `json:"last_reward"`
	TotalRewards      uint64    `json:"total_rewards"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RewardBalance is a patient's cumulative issued reward amount.
type RewardBalance struct {
	Patient string `json:"patient"`
	Balance uint64 `json:"balance"`
}
