package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code", "service"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "service"},
	)

	// Exchange operation metrics
	exchangeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_operations_total",
			Help: "Total number of exchange ledger operations",
		},
		[]string{"operation", "status", "service"},
	)

	// Audit trail metrics
	auditEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of access events appended to the audit trail",
		},
		[]string{"operation", "service"},
	)

	accessNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_notifications_total",
			Help: "Total number of notify-on-access notifications emitted",
		},
		[]string{"service"},
	)

	// Reward metrics
	rewardsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_issued_total",
			Help: "Total reward amount issued for research contributions",
		},
		[]string{"service"},
	)

	// Database metrics
	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"query_type", "service"},
	)
)

// MetricsCollector handles Prometheus metrics collection
type MetricsCollector struct {
	serviceName string
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(serviceName string) *MetricsCollector {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		exchangeOperationsTotal,
		auditEntriesTotal,
		accessNotificationsTotal,
		rewardsIssuedTotal,
		dbQueryDuration,
	)

	return &MetricsCollector{
		serviceName: serviceName,
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, m.serviceName).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, m.serviceName).Observe(duration.Seconds())
}

// RecordOperation records the outcome of an exchange ledger operation
func (m *MetricsCollector) RecordOperation(operation, status string) {
	exchangeOperationsTotal.WithLabelValues(operation, status, m.serviceName).Inc()
}

// RecordAuditEntry records an appended audit trail entry
func (m *MetricsCollector) RecordAuditEntry(operation string) {
	auditEntriesTotal.WithLabelValues(operation, m.serviceName).Inc()
}

// RecordAccessNotification records an emitted notify-on-access notification
func (m *MetricsCollector) RecordAccessNotification() {
	accessNotificationsTotal.WithLabelValues(m.serviceName).Inc()
}

// RecordRewardIssued records the reward amount issued by a contribution
func (m *MetricsCollector) RecordRewardIssued(amount uint64) {
	rewardsIssuedTotal.WithLabelValues(m.serviceName).Add(float64(amount))
}

// RecordDBQuery records database query metrics
func (m *MetricsCollector) RecordDBQuery(queryType string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(queryType, m.serviceName).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}
