package healthexchange

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/healthex/dlt-exchange/pkg/types"
)

const (
	adminID      = "x509::CN=admin::O=HealthEx"
	patientID    = "x509::CN=patient-1::O=HealthEx"
	providerID   = "x509::CN=provider-1::O=HealthEx"
	researcherID = "x509::CN=researcher-1::O=HealthEx"

	refOne = "0x0000000000000000000000000000000000000000000000000000000000000001"
	refTwo = "0x0000000000000000000000000000000000000000000000000000000000000002"
)

// mockStub embeds the stub interface so only the methods the contract touches
// need implementations. State and events are shared across callers to model
// one channel.
type mockStub struct {
	shim.ChaincodeStubInterface
	state  map[string][]byte
	events map[string][]byte
	txTime time.Time
}

func newMockStub() *mockStub {
	return &mockStub{
		state:  make(map[string][]byte),
		events: make(map[string][]byte),
		txTime: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *mockStub) GetState(key string) ([]byte, error) {
	value, ok := m.state[key]
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (m *mockStub) PutState(key string, value []byte) error {
	m.state[key] = value
	return nil
}

func (m *mockStub) DelState(key string) error {
	delete(m.state, key)
	return nil
}

func (m *mockStub) SetEvent(name string, payload []byte) error {
	m.events[name] = payload
	return nil
}

func (m *mockStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(m.txTime), nil
}

type mockClientIdentity struct {
	cid.ClientIdentity
	id string
}

func (m *mockClientIdentity) GetID() (string, error) {
	return m.id, nil
}

type mockTransactionContext struct {
	contractapi.TransactionContextInterface
	stub     *mockStub
	identity *mockClientIdentity
}

func (m *mockTransactionContext) GetStub() shim.ChaincodeStubInterface {
	return m.stub
}

func (m *mockTransactionContext) GetClientIdentity() cid.ClientIdentity {
	return m.identity
}

func asCaller(stub *mockStub, caller string) *mockTransactionContext {
	return &mockTransactionContext{
		stub:     stub,
		identity: &mockClientIdentity{id: caller},
	}
}

func initializedContract(t *testing.T) (*SmartContract, *mockStub) {
	t.Helper()
	contract := &SmartContract{}
	stub := newMockStub()
	require.NoError(t, contract.InitLedger(asCaller(stub, adminID)))
	return contract, stub
}

func TestInitLedgerRecordsAdministrator(t *testing.T) {
	contract, stub := initializedContract(t)

	admin, err := contract.GetAdministrator(asCaller(stub, patientID))
	require.NoError(t, err)
	assert.Equal(t, adminID, admin)

	// Re-initialization by another identity is refused
	err = contract.InitLedger(asCaller(stub, patientID))
	assert.True(t, types.IsKind(err, types.KindUnauthorized))
}

func TestStoreAndUpdateData(t *testing.T) {
	contract, stub := initializedContract(t)

	require.NoError(t, contract.StoreData(asCaller(stub, patientID), refOne, "MEDICAL_HISTORY", 2))

	record, err := contract.GetRecord(asCaller(stub, providerID), patientID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), record.Version)
	assert.Equal(t, "MEDICAL_HISTORY", record.RecordType)

	require.NoError(t, contract.UpdateData(asCaller(stub, patientID), refTwo))

	record, err = contract.GetRecord(asCaller(stub, providerID), patientID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), record.Version)
	expected, err := types.ParseContentRef(refTwo)
	require.NoError(t, err)
	assert.Equal(t, expected, record.DataReference)
	assert.Equal(t, stub.txTime, record.UpdatedAt.UTC())
}

func TestStoreDataRejectsMalformedReference(t *testing.T) {
	contract, stub := initializedContract(t)

	err := contract.StoreData(asCaller(stub, patientID), "0xZZ", "MEDICAL_HISTORY", 1)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))

	err = contract.StoreData(asCaller(stub, patientID), "0x0101", "MEDICAL_HISTORY", 1)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestGrantAndRevokeEmitEvents(t *testing.T) {
	contract, stub := initializedContract(t)

	require.NoError(t, contract.GrantAccess(asCaller(stub, patientID), providerID))

	granted, err := contract.CheckAccess(asCaller(stub, providerID), patientID, providerID)
	require.NoError(t, err)
	assert.True(t, granted)

	var event map[string]string
	require.NoError(t, json.Unmarshal(stub.events[AccessGrantedEvent], &event))
	assert.Equal(t, patientID, event["owner"])
	assert.Equal(t, providerID, event["grantee"])

	require.NoError(t, contract.RevokeAccess(asCaller(stub, patientID), providerID))

	granted, err = contract.CheckAccess(asCaller(stub, providerID), patientID, providerID)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Contains(t, stub.events, AccessRevokedEvent)
}

func TestConsentGatedResearchRequest(t *testing.T) {
	contract, stub := initializedContract(t)

	require.NoError(t, contract.StoreData(asCaller(stub, patientID), refOne, "MEDICAL_HISTORY", 1))

	_, err := contract.RequestDataAccess(asCaller(stub, researcherID), patientID, []string{"age", "gender"}, "Research study")
	assert.True(t, types.IsKind(err, types.KindUnauthorized))

	require.NoError(t, contract.SetConsentPreferences(asCaller(stub, patientID), true, true, true))

	seq, err := contract.RequestDataAccess(asCaller(stub, researcherID), patientID, []string{"age", "gender"}, "Research study")
	require.NoError(t, err)
	assert.NotZero(t, seq)

	// Notify-on-access produced a chaincode event
	var notification map[string]interface{}
	require.NoError(t, json.Unmarshal(stub.events[AccessNotificationEvent], &notification))
	assert.Equal(t, patientID, notification["patient"])
	assert.Equal(t, researcherID, notification["accessor"])

	prefs, err := contract.GetConsentPreferences(asCaller(stub, patientID), patientID)
	require.NoError(t, err)
	assert.True(t, prefs.AllowAnonymousResearch)
	assert.True(t, prefs.NotifyOnAccess)
}

func TestProviderVerificationFlow(t *testing.T) {
	contract, stub := initializedContract(t)

	require.NoError(t, contract.StoreData(asCaller(stub, patientID), refOne, "MEDICAL_HISTORY", 1))
	require.NoError(t, contract.RegisterProviderCredentials(asCaller(stub, providerID), "General Hospital", refTwo))

	_, err := contract.RequestDataAccess(asCaller(stub, providerID), patientID, []string{"medical_history"}, "Treatment")
	assert.True(t, types.IsKind(err, types.KindUnverified))

	err = contract.VerifyProviderCredentials(asCaller(stub, patientID), providerID)
	assert.True(t, types.IsKind(err, types.KindUnauthorized))

	require.NoError(t, contract.VerifyProviderCredentials(asCaller(stub, adminID), providerID))

	credential, err := contract.GetProviderCredential(asCaller(stub, patientID), providerID)
	require.NoError(t, err)
	assert.True(t, credential.Verified)

	seq, err := contract.RequestDataAccess(asCaller(stub, providerID), patientID, []string{"medical_history"}, "Treatment")
	require.NoError(t, err)
	assert.NotZero(t, seq)
}

func TestResearchProposalWorkflow(t *testing.T) {
	contract, stub := initializedContract(t)

	require.NoError(t, contract.SubmitResearchProposal(asCaller(stub, researcherID), 1,
		"COVID-19 Research", "Study on long-term effects", []string{"age", "symptoms"}, 1000))

	err := contract.SubmitResearchProposal(asCaller(stub, researcherID), 1,
		"Duplicate", "desc", []string{"age"}, 500)
	assert.True(t, types.IsKind(err, types.KindAlreadyExists))

	require.NoError(t, contract.ApproveResearchProposal(asCaller(stub, adminID), researcherID, 1))

	proposal, err := contract.GetResearchProposal(asCaller(stub, researcherID), researcherID, 1)
	require.NoError(t, err)
	assert.Equal(t, types.ProposalApproved, proposal.Status)

	err = contract.RejectResearchProposal(asCaller(stub, adminID), researcherID, 1)
	assert.True(t, types.IsKind(err, types.KindInvalidState))
}

func TestContributionRewards(t *testing.T) {
	contract, stub := initializedContract(t)

	first, err := contract.RecordResearchContribution(asCaller(stub, patientID), researcherID)
	require.NoError(t, err)
	second, err := contract.RecordResearchContribution(asCaller(stub, patientID), researcherID)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	contribution, err := contract.GetContribution(asCaller(stub, patientID), patientID, researcherID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), contribution.ContributionCount)

	balance, err := contract.GetRewardBalance(asCaller(stub, patientID), patientID)
	require.NoError(t, err)
	assert.Equal(t, first+second, balance)
}

func TestAuditTrailAuthorization(t *testing.T) {
	contract, stub := initializedContract(t)

	seq, err := contract.LogDataAccess(asCaller(stub, providerID), patientID, providerID,
		[]string{"medical_history", "medications"}, "Regular checkup")
	require.NoError(t, err)
	assert.NotZero(t, seq)

	entries, err := contract.GetAuditTrail(asCaller(stub, patientID), patientID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, providerID, entries[0].Accessor)
	assert.Equal(t, seq, entries[0].Sequence)

	adminView, err := contract.GetAuditTrail(asCaller(stub, adminID), patientID)
	require.NoError(t, err)
	assert.Equal(t, entries, adminView)

	_, err = contract.GetAuditTrail(asCaller(stub, providerID), patientID)
	assert.True(t, types.IsKind(err, types.KindUnauthorized))
}
