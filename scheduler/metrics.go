package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the scheduler's prometheus collectors.
type Metrics struct {
	TickDuration   prometheus.Histogram
	Ticks          prometheus.Counter
	SlowTicks      prometheus.Counter
	TimedOutTicks  prometheus.Counter
	TargetsSkipped prometheus.Counter
	GroupFailures  prometheus.Counter
	EvalErrors     prometheus.Counter
	Markers        *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg, which is usually
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "entitymarkers_tick_duration_seconds",
			Help:    "Duration of reconciliation ticks",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "entitymarkers_ticks_total",
			Help: "Total number of reconciliation ticks",
		}),
		SlowTicks: f.NewCounter(prometheus.CounterOpts{
			Name: "entitymarkers_slow_ticks_total",
			Help: "Number of ticks that took longer than the budget",
		}),
		TimedOutTicks: f.NewCounter(prometheus.CounterOpts{
			Name: "entitymarkers_timed_out_ticks_total",
			Help: "Number of ticks that hit the tick timeout",
		}),
		TargetsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "entitymarkers_targets_skipped_total",
			Help: "Number of target tasks skipped because the world or marker sets could not be resolved",
		}),
		GroupFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "entitymarkers_group_failures_total",
			Help: "Number of rule group rebuilds that failed",
		}),
		EvalErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "entitymarkers_filter_eval_errors_total",
			Help: "Number of filter evaluations that failed",
		}),
		Markers: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "entitymarkers_markers",
			Help: "Markers written for a target by the latest tick",
		}, []string{"target"}),
	}
}

func (m *Metrics) observe(r *Report) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickDuration.Observe(r.Duration.Seconds())
	if r.OverBudget {
		m.SlowTicks.Inc()
	}
	if r.TimedOut {
		m.TimedOutTicks.Inc()
	}
	m.TargetsSkipped.Add(float64(r.Skipped))
	m.GroupFailures.Add(float64(r.GroupsFailed))
	m.EvalErrors.Add(float64(r.EvalErrors))
	for _, res := range r.Results {
		if !res.Skipped {
			m.Markers.WithLabelValues(res.Target).Set(float64(res.Markers))
		}
	}
}
