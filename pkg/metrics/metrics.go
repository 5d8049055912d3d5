package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_instances_total",
			Help: "Total number of registered instances by service and status",
		},
		[]string{"service", "status"},
	)

	RegistryChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_registry_changes_total",
			Help: "Total number of registry change notifications by change type",
		},
		[]string{"change"},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_heartbeats_total",
			Help: "Total number of heartbeats received by result",
		},
		[]string{"result"},
	)

	WatchersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_watchers_active",
			Help: "Number of active registry watchers",
		},
	)

	WatchersDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_watchers_dropped_total",
			Help: "Total number of watchers removed because delivery failed",
		},
	)

	// Routing metrics
	RoutingOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_routing_outcomes_total",
			Help: "Total number of routing outcomes by kind (command/query), outcome and code",
		},
		[]string{"kind", "outcome", "code"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_dispatch_duration_seconds",
			Help:    "Duration of dispatches to instances in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Resilience metrics
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_resilience_retries_total",
			Help: "Total number of retried attempts by operation",
		},
		[]string{"operation"},
	)

	PermanentFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_resilience_failures_total",
			Help: "Total number of calls that failed after exhausting policy",
		},
		[]string{"operation"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_circuit_state",
			Help: "Circuit breaker state by operation (0 = closed, 1 = half-open, 2 = open)",
		},
		[]string{"operation"},
	)

	// Event pipeline metrics
	EventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_appended_total",
			Help: "Total number of events appended by origin",
		},
		[]string{"origin"},
	)

	AppendConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_append_conflicts_total",
			Help: "Total number of appends rejected with a concurrency conflict",
		},
	)

	IngestDivergedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_ingest_diverged_total",
			Help: "Total number of broadcast events that disagree with the local stream",
		},
	)

	ForwardFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_forward_failures_total",
			Help: "Total number of events that failed to reach the broadcast channel",
		},
	)

	DeadLettersPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_dead_letters_pending",
			Help: "Number of events waiting for broadcast redelivery",
		},
	)

	AppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_append_duration_seconds",
			Help:    "Time taken to persist an event in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_reconciliation_duration_seconds",
			Help:    "Time taken by one liveness sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_reconciliation_cycles_total",
			Help: "Total number of liveness sweeps",
		},
	)

	// DNS metrics
	DNSQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dns_queries_total",
			Help: "Total number of DNS queries by response code",
		},
		[]string{"rcode"},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(RegistryChangesTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(WatchersActive)
	prometheus.MustRegister(WatchersDropped)
	prometheus.MustRegister(RoutingOutcomesTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(PermanentFailuresTotal)
	prometheus.MustRegister(CircuitState)
	prometheus.MustRegister(EventsAppendedTotal)
	prometheus.MustRegister(AppendConflictsTotal)
	prometheus.MustRegister(IngestDivergedTotal)
	prometheus.MustRegister(ForwardFailuresTotal)
	prometheus.MustRegister(DeadLettersPending)
	prometheus.MustRegister(AppendDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(DNSQueriesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
