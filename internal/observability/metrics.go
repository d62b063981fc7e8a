package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the reconciliation engine.
type Metrics struct {
	// --- Replay runs ---
	ReplayRuns        *prometheus.CounterVec // mode: now|timestamp|sequence
	ReplayDuration    prometheus.Histogram
	ReplayUsers       prometheus.Counter
	ReplayCutoff      prometheus.Gauge
	ReplayLastSuccess prometheus.Gauge

	// --- Rebuild ---
	RebuildEntriesScanned prometheus.Counter
	RebuildTradesScanned  prometheus.Counter
	RebuildUserDuration   prometheus.Histogram

	// --- Drift ---
	DriftDetected *prometheus.CounterVec // severity: tolerable|fatal
	HaltTriggered prometheus.Counter

	// --- Integrity guard ---
	GuardScans      prometheus.Counter
	GuardDuplicates prometheus.Counter

	// --- Equity ---
	QuoteFallbacks *prometheus.CounterVec // reason: missing|stale|future
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ReplayRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgeraudit_replay_runs_total",
			Help: "Replay runs started, by cutoff mode",
		}, []string{"mode"}),

		ReplayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgeraudit_replay_duration_seconds",
			Help:    "Wall-clock duration of full replay runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),

		ReplayUsers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgeraudit_replay_users_total",
			Help: "Users processed across all replay runs",
		}),

		ReplayCutoff: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledgeraudit_replay_cutoff_sequence",
			Help: "Cutoff sequence of the most recent replay run",
		}),

		ReplayLastSuccess: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledgeraudit_replay_last_success_timestamp_seconds",
			Help: "Completion time of the last successful replay run",
		}),

		RebuildEntriesScanned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgeraudit_rebuild_ledger_entries_total",
			Help: "Ledger entries replayed during wallet rebuilds",
		}),

		RebuildTradesScanned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgeraudit_rebuild_trades_total",
			Help: "Trade fills replayed during position rebuilds",
		}),

		RebuildUserDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgeraudit_rebuild_user_duration_seconds",
			Help:    "Time to rebuild one user's wallet and positions",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		DriftDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgeraudit_drift_detected_total",
			Help: "Users with drift between rebuilt and live state, by severity",
		}, []string{"severity"}),

		HaltTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgeraudit_halt_triggered_total",
			Help: "Times the trading halt was triggered by reconciliation",
		}),

		GuardScans: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgeraudit_guard_scans_total",
			Help: "Idempotency guard scans executed",
		}),

		GuardDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgeraudit_guard_duplicate_keys_total",
			Help: "Duplicated idempotency keys found in the ledger",
		}),

		QuoteFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgeraudit_quote_fallbacks_total",
			Help: "Positions valued at average price because the live quote was unusable",
		}, []string{"reason"}),
	}
}
