package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics exposes low-cardinality counters for the commission engine.
type Metrics struct {
	Registry *prometheus.Registry

	AllocationsTotal   *prometheus.CounterVec
	CommissionsCreated prometheus.Counter
	CommissionsPaid    prometheus.Counter
	LevelsSkipped      *prometheus.CounterVec
	WalletRetries      prometheus.Counter
	WalletExhausted    prometheus.Counter
	ReversalsTotal     *prometheus.CounterVec
	FraudFindings      *prometheus.CounterVec
}

// New registers the engine collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: registry,
		AllocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_allocations_total",
			Help: "Order-paid allocations by outcome.",
		}, []string{"outcome"}),
		CommissionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_records_created_total",
			Help: "Commission records created in PENDING state.",
		}),
		CommissionsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_records_paid_total",
			Help: "Commission records transitioned to PAID.",
		}),
		LevelsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_levels_skipped_total",
			Help: "Per-level allocation skips by reason.",
		}, []string{"reason"}),
		WalletRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_wallet_retries_total",
			Help: "Wallet posting retry attempts.",
		}),
		WalletExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_wallet_exhausted_total",
			Help: "Wallet postings that exhausted all retry attempts.",
		}),
		ReversalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_reversals_total",
			Help: "Reversal operations by kind.",
		}, []string{"kind"}),
		FraudFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_fraud_findings_total",
			Help: "Advisory fraud findings by heuristic.",
		}, []string{"heuristic"}),
	}

	registry.MustRegister(
		m.AllocationsTotal,
		m.CommissionsCreated,
		m.CommissionsPaid,
		m.LevelsSkipped,
		m.WalletRetries,
		m.WalletExhausted,
		m.ReversalsTotal,
		m.FraudFindings,
	)
	return m
}
