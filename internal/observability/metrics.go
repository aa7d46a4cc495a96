package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SynthLedger.
type Metrics struct {
	// --- Engine operations ---
	OpsApplied     *prometheus.CounterVec
	OpsRejected    *prometheus.CounterVec
	OpDuration     *prometheus.HistogramVec
	EngineSequence prometheus.Gauge
	TotalDebt      prometheus.Gauge

	// --- Oracle ---
	OracleQuotes      *prometheus.CounterVec
	OracleStaleQuotes *prometheus.CounterVec

	// --- Liquidation ---
	LiquidationsExecuted *prometheus.CounterVec
	LiquidationsRejected *prometheus.CounterVec

	// --- Eventing ---
	EventsPublished *prometheus.CounterVec
	PublishDrops    prometheus.Counter

	// --- Persistence ---
	PersistOpsWritten   prometheus.Counter
	PersistBatchSize    prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastSequence prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_ops_applied_total",
			Help: "Operations committed by the engine",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_ops_rejected_total",
			Help: "Operations rejected and rolled back",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_op_duration_seconds",
			Help:    "Time to execute a single engine operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_engine_sequence",
			Help: "Sequence of the last committed operation",
		}),

		TotalDebt: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_total_debt_susd",
			Help: "Total synthetic debt outstanding, whole sUSD",
		}),

		OracleQuotes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_oracle_quotes_total",
			Help: "Price quotes served",
		}, []string{"asset"}),

		OracleStaleQuotes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_oracle_stale_quotes_total",
			Help: "Quotes rejected as stale",
		}, []string{"asset"}),

		LiquidationsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_liquidations_executed_total",
			Help: "Completed liquidations",
		}, []string{"asset"}),

		LiquidationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_liquidations_rejected_total",
			Help: "Liquidation attempts rejected",
		}, []string{"asset", "reason"}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_events_published_total",
			Help: "Outbound events published to NATS",
		}, []string{"event_type"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistOpsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_ops_written_total",
			Help: "Operations written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_persist_batch_size",
			Help:    "Operations per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}
