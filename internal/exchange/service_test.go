package exchange

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	core "github.com/healthex/dlt-exchange/pkg/exchange"
	"github.com/healthex/dlt-exchange/pkg/logger"
	"github.com/healthex/dlt-exchange/pkg/monitoring"
	"github.com/healthex/dlt-exchange/pkg/storage"
	"github.com/healthex/dlt-exchange/pkg/types"
)

const (
	testAdmin      = "admin-principal"
	testPatient    = "patient-1"
	testProvider   = "provider-1"
	testResearcher = "researcher-1"
)

// Prometheus collectors register globally, so all tests in the package share
// one collector.
var (
	metricsOnce sync.Once
	testMetrics *monitoring.MetricsCollector
)

func testCollector() *monitoring.MetricsCollector {
	metricsOnce.Do(func() {
		testMetrics = monitoring.NewMetricsCollector("exchange-service-test")
	})
	return testMetrics
}

// mockAuditRepository mocks the off-chain read model
type mockAuditRepository struct {
	mock.Mock
}

func (m *mockAuditRepository) SaveEntry(ctx context.Context, entry *types.DataAccessLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockAuditRepository) EntriesForPatient(ctx context.Context, patient string) ([]types.DataAccessLogEntry, error) {
	args := m.Called(ctx, patient)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.DataAccessLogEntry), args.Error(1)
}

func newTestService(t *testing.T, audit *mockAuditRepository) *Service {
	t.Helper()
	ledger := core.New(storage.NewMemory())
	require.NoError(t, ledger.Init(testAdmin))

	log := logger.New("exchange-service-test", "error")
	if audit == nil {
		// A typed nil must not leak into the interface field
		return NewService(ledger, nil, log, testCollector())
	}
	return NewService(ledger, audit, log, testCollector())
}

func TestRequestDataAccessMirrorsToReadModel(t *testing.T) {
	audit := &mockAuditRepository{}
	service := newTestService(t, audit)

	require.NoError(t, service.StoreData(testPatient, types.ContentRef{}, "MEDICAL_HISTORY", 1))
	require.NoError(t, service.SetConsentPreferences(testPatient, types.ConsentPreferences{
		AllowAnonymousResearch: true,
	}))

	audit.On("SaveEntry", mock.Anything, mock.MatchedBy(func(entry *types.DataAccessLogEntry) bool {
		return entry.Patient == testPatient &&
			entry.Accessor == testResearcher &&
			entry.Sequence == 1
	})).Return(nil)

	seq, err := service.RequestDataAccess(context.Background(), testResearcher, testPatient,
		[]string{"age"}, "Research study")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	audit.AssertExpectations(t)
}

func TestRequestDataAccessDeniedIsNotMirrored(t *testing.T) {
	audit := &mockAuditRepository{}
	service := newTestService(t, audit)

	require.NoError(t, service.StoreData(testPatient, types.ContentRef{}, "MEDICAL_HISTORY", 1))

	_, err := service.RequestDataAccess(context.Background(), testResearcher, testPatient,
		[]string{"age"}, "Research study")
	assert.True(t, types.IsKind(err, types.KindUnauthorized))

	audit.AssertNotCalled(t, "SaveEntry", mock.Anything, mock.Anything)
}

func TestMirrorFailureDoesNotFailTheRequest(t *testing.T) {
	audit := &mockAuditRepository{}
	service := newTestService(t, audit)

	audit.On("SaveEntry", mock.Anything, mock.Anything).Return(assert.AnError)

	seq, err := service.LogDataAccess(context.Background(), testProvider, testPatient, testProvider,
		[]string{"medical_history"}, "Checkup")
	require.NoError(t, err)
	assert.NotZero(t, seq)
}

func TestServiceWithoutReadModel(t *testing.T) {
	service := newTestService(t, nil)

	seq, err := service.LogDataAccess(context.Background(), testProvider, testPatient, testProvider,
		[]string{"medical_history"}, "Checkup")
	require.NoError(t, err)
	assert.NotZero(t, seq)

	_, err = service.OffchainAuditTrail(context.Background(), testPatient, testPatient)
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestOffchainAuditTrailAuthorization(t *testing.T) {
	audit := &mockAuditRepository{}
	service := newTestService(t, audit)

	mirrored := []types.DataAccessLogEntry{{Sequence: 1, Patient: testPatient, Accessor: testProvider}}
	audit.On("EntriesForPatient", mock.Anything, testPatient).Return(mirrored, nil)

	entries, err := service.OffchainAuditTrail(context.Background(), testPatient, testPatient)
	require.NoError(t, err)
	assert.Equal(t, mirrored, entries)

	entries, err = service.OffchainAuditTrail(context.Background(), testAdmin, testPatient)
	require.NoError(t, err)
	assert.Equal(t, mirrored, entries)

	_, err = service.OffchainAuditTrail(context.Background(), testProvider, testPatient)
	assert.True(t, types.IsKind(err, types.KindUnauthorized))
	audit.AssertNumberOfCalls(t, "EntriesForPatient", 2)
}

func TestContributionRewardsThroughService(t *testing.T) {
	service := newTestService(t, nil)

	first, err := service.RecordResearchContribution(testPatient, testResearcher)
	require.NoError(t, err)
	second, err := service.RecordResearchContribution(testPatient, testResearcher)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	balance, err := service.RewardBalance(testPatient)
	require.NoError(t, err)
	assert.Equal(t, first+second, balance)
}

func TestHandleNotificationFromLedger(t *testing.T) {
	var service *Service
	ledger := core.New(storage.NewMemory(), core.WithNotifier(func(n core.AccessNotification) {
		service.HandleNotification(n)
	}))
	require.NoError(t, ledger.Init(testAdmin))
	service = NewService(ledger, nil, logger.New("exchange-service-test", "error"), testCollector())

	require.NoError(t, service.StoreData(testPatient, types.ContentRef{}, "MEDICAL_HISTORY", 1))
	require.NoError(t, service.SetConsentPreferences(testPatient, types.ConsentPreferences{
		AllowAnonymousResearch: true,
		NotifyOnAccess:         true,
	}))

	seq, err := service.RequestDataAccess(context.Background(), testResearcher, testPatient,
		[]string{"age"}, "Research study")
	require.NoError(t, err)
	assert.NotZero(t, seq)
}
