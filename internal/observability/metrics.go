// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Factory program metrics
	FactoriesInitialized prometheus.Counter
	TokensCreated        prometheus.Counter
	MetadataUpdates      prometheus.Counter
	SupplyMinted         prometheus.Counter
	OperationErrors      *prometheus.CounterVec
	OperationLatency     *prometheus.HistogramVec

	// Runtime metrics
	Transactions        *prometheus.CounterVec
	TransactionDuration prometheus.Histogram
	LastCommittedSlot   prometheus.Gauge

	// Event publishing metrics
	EventsPublished *prometheus.CounterVec

	// Watcher metrics
	NotificationsReceived prometheus.Counter
	EventsIngested        *prometheus.CounterVec
	EventDecodeErrors     prometheus.Counter
	HighestSlotSeen       prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "hypertoken"
	}
	factory := promauto.With(reg)

	return &Metrics{
		FactoriesInitialized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "factories_initialized_total",
			Help:      "Total number of token factories initialized",
		}),
		TokensCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "tokens_created_total",
			Help:      "Total number of tokens created",
		}),
		MetadataUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "metadata_updates_total",
			Help:      "Total number of metadata update announcements",
		}),
		SupplyMinted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "initial_supply_minted_total",
			Help:      "Sum of initial supplies minted, in raw units",
		}),
		OperationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "operation_errors_total",
			Help:      "Total number of failed operations by operation and error name",
		}, []string{"operation", "error"}),
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "operation_latency_seconds",
			Help:      "Operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		Transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "transactions_total",
			Help:      "Total number of transactions by status",
		}, []string{"status"}),
		TransactionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "transaction_duration_seconds",
			Help:      "Transaction duration including lock wait and commit",
			Buckets:   prometheus.DefBuckets,
		}),
		LastCommittedSlot: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "last_committed_slot",
			Help:      "Slot of the last committed transaction",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events handed to publishers by sink and status",
		}, []string{"sink", "status"}),

		NotificationsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "notifications_received_total",
			Help:      "Total number of log notifications received",
		}),
		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "events_ingested_total",
			Help:      "Total number of events ingested by kind and result",
		}, []string{"kind", "result"}),
		EventDecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "event_decode_errors_total",
			Help:      "Total number of program data lines that failed to decode",
		}),
		HighestSlotSeen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordOperation records the outcome of a factory operation.
func RecordOperation(operation, errName string, seconds float64) {
	DefaultMetrics.OperationLatency.WithLabelValues(operation).Observe(seconds)
	if errName != "" {
		DefaultMetrics.OperationErrors.WithLabelValues(operation, errName).Inc()
	}
}

// RecordFactoryInitialized increments the factories initialized counter.
func RecordFactoryInitialized() {
	DefaultMetrics.FactoriesInitialized.Inc()
}

// RecordTokenCreated increments the tokens created counter and the minted supply.
func RecordTokenCreated(initialSupply uint64) {
	DefaultMetrics.TokensCreated.Inc()
	DefaultMetrics.SupplyMinted.Add(float64(initialSupply))
}

// RecordMetadataUpdated increments the metadata updates counter.
func RecordMetadataUpdated() {
	DefaultMetrics.MetadataUpdates.Inc()
}

// RecordTransaction records a runtime transaction outcome.
func RecordTransaction(status string, seconds float64) {
	DefaultMetrics.Transactions.WithLabelValues(status).Inc()
	DefaultMetrics.TransactionDuration.Observe(seconds)
}

// UpdateCommittedSlot updates the last committed slot gauge.
func UpdateCommittedSlot(slot uint64) {
	DefaultMetrics.LastCommittedSlot.Set(float64(slot))
}

// RecordPublish records events handed to a publisher sink.
func RecordPublish(sink, status string, count int) {
	DefaultMetrics.EventsPublished.WithLabelValues(sink, status).Add(float64(count))
}

// RecordNotification increments the watcher notifications counter.
func RecordNotification() {
	DefaultMetrics.NotificationsReceived.Inc()
}

// RecordEventIngested records an event seen by the watcher.
func RecordEventIngested(kind, result string) {
	DefaultMetrics.EventsIngested.WithLabelValues(kind, result).Inc()
}

// RecordDecodeError increments the decode errors counter.
func RecordDecodeError() {
	DefaultMetrics.EventDecodeErrors.Inc()
}

// UpdateHighestSlot updates the highest slot seen gauge.
func UpdateHighestSlot(slot int64) {
	DefaultMetrics.HighestSlotSeen.Set(float64(slot))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(route, method, status string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, method, status).Inc()
	DefaultMetrics.HTTPDuration.WithLabelValues(route, method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
