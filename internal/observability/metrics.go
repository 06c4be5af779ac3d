package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the house ledger.
type Metrics struct {
	// --- Chain-event reconciliation ---
	ChainEventsApplied   *prometheus.CounterVec
	ChainEventsDuplicate *prometheus.CounterVec
	ChainEventsDropped   *prometheus.CounterVec
	ChainEventRetries    prometheus.Counter

	// --- Ledger ---
	LedgerOperations *prometheus.CounterVec
	LedgerTotal      prometheus.Gauge

	// --- Bets ---
	BetsPlaced    prometheus.Counter
	BetsRejected  *prometheus.CounterVec
	BetsSettled   *prometheus.CounterVec
	SettlementLag prometheus.Histogram
	PriceMisses   prometheus.Counter
	OverdueBets   prometheus.Gauge

	// --- Reconciliation report ---
	ReconcileRuns        prometheus.Counter
	ReconcileDiscrepancy prometheus.Gauge

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the given registerer.
// Production wiring passes prometheus.DefaultRegisterer; tests pass a
// fresh registry so package test binaries never collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChainEventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "house_chain_events_applied_total",
			Help: "Chain events applied to the ledger",
		}, []string{"kind"}),

		ChainEventsDuplicate: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "house_chain_events_duplicate_total",
			Help: "Chain events skipped as already applied",
		}, []string{"kind"}),

		ChainEventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "house_chain_events_dropped_total",
			Help: "Chain events dropped (malformed or unapplicable)",
		}, []string{"kind", "reason"}),

		ChainEventRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "house_chain_event_retries_total",
			Help: "Transient-failure retries while applying chain events",
		}),

		LedgerOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "house_ledger_operations_total",
			Help: "Ledger mutations by operation type",
		}, []string{"operation"}),

		LedgerTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "house_ledger_total_balance",
			Help: "Sum of all account balances (base units)",
		}),

		BetsPlaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "house_bets_placed_total",
			Help: "Bets admitted",
		}),

		BetsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "house_bets_rejected_total",
			Help: "Bets rejected at admission",
		}, []string{"reason"}),

		BetsSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "house_bets_settled_total",
			Help: "Bets resolved by outcome",
		}, []string{"outcome"}),

		SettlementLag: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "house_settlement_lag_seconds",
			Help:    "Delay between bet deadline and resolution",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		PriceMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "house_settlement_price_misses_total",
			Help: "Settlement scans deferred for lack of a price sample",
		}),

		OverdueBets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "house_settlement_overdue_bets",
			Help: "Pending bets past the max settlement delay",
		}),

		ReconcileRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "house_reconcile_runs_total",
			Help: "Treasury reconciliation comparisons",
		}),

		ReconcileDiscrepancy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "house_reconcile_discrepancy",
			Help: "Ledger total minus treasury balance (base units)",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "house_http_requests_total",
			Help: "API requests by route and status",
		}, []string{"route", "status"}),
	}
}
