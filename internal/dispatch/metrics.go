package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dispatcher's Prometheus collectors.
type Metrics struct {
	Ticks       prometheus.Counter
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram
	InFlight    prometheus.Gauge
	DeadLetters prometheus.Counter
}

// NewMetrics creates and registers the dispatcher collectors on reg.
// A nil registerer leaves them unregistered (used in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "symsched",
			Name:      "ticks_total",
			Help:      "Dispatcher ticks executed.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symsched",
			Name:      "runs_total",
			Help:      "Finalized runs by status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "symsched",
			Name:      "run_duration_seconds",
			Help:      "Run wall time from start to finalize.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "symsched",
			Name:      "runs_in_flight",
			Help:      "Runs currently executing.",
		}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "symsched",
			Name:      "dead_letters_total",
			Help:      "Jobs transitioned to dead_letter.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Ticks, m.RunsTotal, m.RunDuration, m.InFlight, m.DeadLetters)
	}
	return m
}
