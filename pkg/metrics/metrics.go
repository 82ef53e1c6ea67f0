package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decisions taken for inbound messages, by verdict.
	RelayDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_decisions_total",
			Help: "Total number of inbound private messages by decision verdict",
		},
		[]string{"verdict"}, // forward, skip_recent, skip_daily, skip_filtered
	)

	// Delivery attempts to the downstream recipient.
	RelayDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Total number of delivery attempts to the downstream recipient",
		},
		[]string{"status"}, // success, failed
	)

	DeliveryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_latency_ms",
			Help:    "Delivery latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_reconnect_attempts_total",
			Help: "Total number of reconnect attempts after a failed or dropped connection",
		},
	)

	SupervisorState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_supervisor_state",
			Help: "Current connection supervisor state (0 idle, 1 connecting, 2 running, 3 disconnected, 4 shutting down)",
		},
	)

	TrackedEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_tracked_entries",
			Help: "Tracking entries kept after the last prune",
		},
		[]string{"category"}, // ignored, collected
	)

	PruneDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_prune_duration_seconds",
			Help:    "Tracking store prune duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	SlowQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_db_slow_queries_total",
			Help: "Total number of state queries slower than the configured threshold",
		},
	)
)

func IncrementDecision(verdict string) {
	RelayDecisions.WithLabelValues(verdict).Inc()
}

// RecordDelivery counts a delivery attempt and observes its latency.
func RecordDelivery(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failed"
	}
	RelayDeliveries.WithLabelValues(status).Inc()
	DeliveryLatency.Observe(float64(duration.Milliseconds()))
}

func IncrementReconnect() {
	ReconnectAttempts.Inc()
}

func SetSupervisorState(state int) {
	SupervisorState.Set(float64(state))
}

// RecordPrune publishes the kept entry counts and the prune duration.
func RecordPrune(keptIgnored, keptCollected int, duration time.Duration) {
	TrackedEntries.WithLabelValues("ignored").Set(float64(keptIgnored))
	TrackedEntries.WithLabelValues("collected").Set(float64(keptCollected))
	PruneDuration.Observe(duration.Seconds())
}

func IncrementSlowQuery() {
	SlowQueries.Inc()
}
