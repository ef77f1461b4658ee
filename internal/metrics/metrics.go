// Package metrics exposes the oracle's Prometheus collectors.
package metrics

import (
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// Metrics holds every collector the oracle updates.
type Metrics struct {
	AnswersTotal     *prometheus.CounterVec
	AnswerValue      *prometheus.GaugeVec
	ReferenceValue   *prometheus.GaugeVec
	DeviationBps     *prometheus.GaugeVec
	AnswerBlock      *prometheus.GaugeVec
	ComputeDuration  *prometheus.HistogramVec
	ReadErrorsTotal  *prometheus.CounterVec
	ArchivedTotal    prometheus.Counter
	BreakerOpenState prometheus.Gauge
}

// New registers the collectors on reg under namespace. A nil reg leaves them
// unregistered, which tests use.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		AnswersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "answers_total",
				Help:      "Answers computed, by token, reference source and valuation path.",
			},
			[]string{"symbol", "source", "path"},
		),
		AnswerValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "answer",
				Help:      "Latest fair value per share, in base-asset units.",
			},
			[]string{"symbol"},
		),
		ReferenceValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reference_price",
				Help:      "Reference price used for the latest answer, in base-asset units.",
			},
			[]string{"symbol"},
		),
		DeviationBps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "spot_deviation_bps",
				Help:      "Deviation between pool spot price and reference, in basis points.",
			},
			[]string{"symbol"},
		),
		AnswerBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "answer_block",
				Help:      "Block number the latest answer was read at.",
			},
			[]string{"symbol"},
		),
		ComputeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compute_duration_seconds",
				Help:      "Time to read a snapshot and compute one answer.",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"symbol"},
		),
		ReadErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "read_errors_total",
				Help:      "Failed chain reads, by token and kind (reserves, primary, fallback, head).",
			},
			[]string{"symbol", "kind"},
		),
		ArchivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archived_answers_total",
				Help:      "Answers moved to cold storage.",
			},
		),
		BreakerOpenState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rpc_breaker_open",
				Help:      "1 while the RPC circuit breaker is open.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.AnswersTotal, m.AnswerValue, m.ReferenceValue, m.DeviationBps,
			m.AnswerBlock, m.ComputeDuration, m.ReadErrorsTotal,
			m.ArchivedTotal, m.BreakerOpenState,
		)
	}
	return m
}

// ObserveAnswer records a computed answer and how long it took.
func (m *Metrics) ObserveAnswer(a domain.Answer, took time.Duration) {
	m.AnswersTotal.WithLabelValues(a.Symbol, string(a.Source), string(a.Path)).Inc()
	m.AnswerValue.WithLabelValues(a.Symbol).Set(ScaledFloat(&a.Value))
	m.ReferenceValue.WithLabelValues(a.Symbol).Set(ScaledFloat(&a.Reference))
	m.DeviationBps.WithLabelValues(a.Symbol).Set(float64(a.DeviationBps))
	m.AnswerBlock.WithLabelValues(a.Symbol).Set(float64(a.BlockNumber))
	m.ComputeDuration.WithLabelValues(a.Symbol).Observe(took.Seconds())
}

// ReadError counts one failed read of the given kind.
func (m *Metrics) ReadError(symbol, kind string) {
	m.ReadErrorsTotal.WithLabelValues(symbol, kind).Inc()
}

var scaleFloat = new(big.Float).SetInt64(1e18)

// ScaledFloat converts a 1e18-scaled fixed point value to a float for
// display. Precision loss is acceptable for gauges only.
func ScaledFloat(v *uint256.Int) float64 {
	f := new(big.Float).SetInt(v.ToBig())
	out, _ := f.Quo(f, scaleFloat).Float64()
	return out
}
