package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gate. Every method is safe to
// call on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	Verdicts            *prometheus.CounterVec
	HistoryQueryLatency prometheus.Histogram
	RejectionCacheSize  prometheus.Gauge

	Transfers       *prometheus.CounterVec
	TransferLatency prometheus.Histogram

	MigrationAttempts *prometheus.CounterVec

	Ready                prometheus.Gauge
	ObservedTransactions prometheus.Gauge
	VotesCast            prometheus.Counter
	ConsensusRatio       prometheus.Gauge

	ListenerRecords *prometheus.CounterVec

	LedgerCalls       *prometheus.CounterVec
	LedgerCallLatency *prometheus.HistogramVec
	CircuitOpen       *prometheus.GaugeVec

	EnvelopesPublished prometheus.Counter
}

// New creates and registers all gate metrics on reg. A nil reg registers on
// the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qgate_provenance_verdicts_total",
			Help: "Provenance verdicts by result",
		}, []string{"verdict"}), // verdict: "clean", "tainted"

		HistoryQueryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qgate_provenance_history_query_duration_seconds",
			Help:    "Duration of ledger history queries issued by the provenance filter",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		RejectionCacheSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "qgate_rejection_cache_size",
			Help: "Number of identifiers cached as tainted",
		}),

		Transfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qgate_transfers_total",
			Help: "Fixed-value transfer attempts by result",
		}, []string{"result"}), // result: "submitted", "skipped", "failed"

		TransferLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qgate_transfer_duration_seconds",
			Help:    "Duration of fixed-value transfers including sealing and submission",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		MigrationAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qgate_migration_attempts_total",
			Help: "Migration attempts by outcome",
		}, []string{"outcome"}),

		Ready: f.NewGauge(prometheus.GaugeOpts{
			Name: "qgate_mainnet_ready",
			Help: "1 when ledger activity met the readiness threshold on the last successful tick",
		}),

		ObservedTransactions: f.NewGauge(prometheus.GaugeOpts{
			Name: "qgate_readiness_observed_transactions",
			Help: "Transactions counted by the last successful readiness tick",
		}),

		VotesCast: f.NewCounter(prometheus.CounterOpts{
			Name: "qgate_consensus_votes_total",
			Help: "Total consensus votes appended to the vote ledger",
		}),

		ConsensusRatio: f.NewGauge(prometheus.GaugeOpts{
			Name: "qgate_consensus_approval_ratio",
			Help: "Current approval ratio of the vote ledger",
		}),

		ListenerRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qgate_listener_records_total",
			Help: "Stream records handled by the event listener by result",
		}, []string{"result"}), // result: "processed", "tainted", "dropped", "failed"

		LedgerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qgate_ledger_calls_total",
			Help: "Ledger calls by operation and result",
		}, []string{"op", "result"}),

		LedgerCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qgate_ledger_call_duration_seconds",
			Help:    "Duration of ledger calls by operation, retries included",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),

		CircuitOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qgate_circuit_open",
			Help: "1 while the named circuit breaker is open",
		}, []string{"name"}),

		EnvelopesPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "qgate_envelopes_published_total",
			Help: "Sealed envelopes published to the envelope sink",
		}),
	}
}

// IncrementVerdict records a provenance verdict.
func (m *Metrics) IncrementVerdict(verdict string) {
	if m != nil {
		m.Verdicts.WithLabelValues(verdict).Inc()
	}
}

// ObserveHistoryQuery records the duration of a provenance history query.
func (m *Metrics) ObserveHistoryQuery(d time.Duration) {
	if m != nil {
		m.HistoryQueryLatency.Observe(d.Seconds())
	}
}

// SetRejectionCacheSize records the current taint cache size.
func (m *Metrics) SetRejectionCacheSize(n int) {
	if m != nil {
		m.RejectionCacheSize.Set(float64(n))
	}
}

// IncrementTransfer records a transfer result.
func (m *Metrics) IncrementTransfer(result string) {
	if m != nil {
		m.Transfers.WithLabelValues(result).Inc()
	}
}

// ObserveTransfer records the duration of a transfer.
func (m *Metrics) ObserveTransfer(d time.Duration) {
	if m != nil {
		m.TransferLatency.Observe(d.Seconds())
	}
}

// IncrementMigrationAttempt records a migration outcome.
func (m *Metrics) IncrementMigrationAttempt(outcome string) {
	if m != nil {
		m.MigrationAttempts.WithLabelValues(outcome).Inc()
	}
}

// SetReadiness records the outcome of a successful readiness tick.
func (m *Metrics) SetReadiness(ready bool, observed int) {
	if m == nil {
		return
	}
	if ready {
		m.Ready.Set(1)
	} else {
		m.Ready.Set(0)
	}
	m.ObservedTransactions.Set(float64(observed))
}

// AddVotes records appended votes and the resulting approval ratio.
func (m *Metrics) AddVotes(n int, ratio float64) {
	if m != nil {
		m.VotesCast.Add(float64(n))
		m.ConsensusRatio.Set(ratio)
	}
}

// IncrementListenerRecord records how the listener handled a record.
func (m *Metrics) IncrementListenerRecord(result string) {
	if m != nil {
		m.ListenerRecords.WithLabelValues(result).Inc()
	}
}

// ObserveLedgerCall records a ledger call result and duration.
func (m *Metrics) ObserveLedgerCall(op, result string, d time.Duration) {
	if m != nil {
		m.LedgerCalls.WithLabelValues(op, result).Inc()
		m.LedgerCallLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

// SetCircuitOpen records the position of a named breaker.
func (m *Metrics) SetCircuitOpen(name string, open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.WithLabelValues(name).Set(1)
	} else {
		m.CircuitOpen.WithLabelValues(name).Set(0)
	}
}

// IncrementEnvelopesPublished counts an envelope handed to the sink.
func (m *Metrics) IncrementEnvelopesPublished() {
	if m != nil {
		m.EnvelopesPublished.Inc()
	}
}
