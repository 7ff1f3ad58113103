package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for StableVault.
type Metrics struct {
	// Engine operations
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// Liquidation
	LiquidationsExecuted prometheus.Counter
	LiquidationDebt      prometheus.Counter
	CollateralSeized     *prometheus.CounterVec

	// Oracle
	OracleFailures  *prometheus.CounterVec
	FeedUpdates     *prometheus.CounterVec
	FeedParseErrors prometheus.Counter

	// Event log
	PublishDrops         prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistEventsWritten prometheus.Counter

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_engine_ops_applied_total",
			Help: "Engine operations committed",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_engine_ops_rejected_total",
			Help: "Engine operations rejected and fully rolled back",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_engine_op_duration_seconds",
			Help:    "Time to apply a single engine operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		LiquidationsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_liquidations_executed_total",
			Help: "Successful liquidations",
		}),

		LiquidationDebt: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_liquidation_debt_covered_units_total",
			Help: "Liability units burned through liquidation (whole units)",
		}),

		CollateralSeized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidation_collateral_seized_units_total",
			Help: "Collateral seized by liquidators (whole units)",
		}, []string{"asset"}),

		OracleFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_oracle_failures_total",
			Help: "Valuation failures by cause (stale, unavailable, invalid)",
		}, []string{"reason"}),

		FeedUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_oracle_feed_updates_total",
			Help: "Accepted price updates per feed",
		}, []string{"feed_id"}),

		FeedParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_oracle_feed_parse_errors_total",
			Help: "Malformed price payloads dropped",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Outbound event envelopes dropped on full publish channel",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Operation log write failures by stage",
		}, []string{"stage"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Time to flush one operation log batch",
			Buckets: prometheus.DefBuckets,
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Envelopes per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Operation log rows written",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Read-only API requests",
		}, []string{"route", "code"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Read-only API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
