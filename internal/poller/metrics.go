// internal/poller/metrics.go
package poller

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the scheduler. A nil *Metrics is a no-op.
type Metrics struct {
	cycle     prometheus.Histogram
	registers *prometheus.CounterVec
	aborted   prometheus.Counter
}

// NewMetrics registers the scheduler collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sun2000",
			Subsystem: "poll",
			Name:      "cycle_seconds",
			Help:      "Duration of one poll cycle.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		registers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sun2000",
			Subsystem: "poll",
			Name:      "registers_total",
			Help:      "Registers read per device.",
		}, []string{"device"}),
		aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sun2000",
			Subsystem: "poll",
			Name:      "aborted_cycles_total",
			Help:      "Cycles ended early by a transport fault.",
		}),
	}
	reg.MustRegister(m.cycle, m.registers, m.aborted)
	return m
}

func (m *Metrics) observe(res PollResult) {
	if m == nil {
		return
	}
	m.cycle.Observe(res.Duration.Seconds())
	for _, d := range res.Devices {
		m.registers.WithLabelValues(d.Name).Add(float64(d.Registers))
	}
	if res.Aborted {
		m.aborted.Inc()
	}
}
