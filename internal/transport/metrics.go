// internal/transport/metrics.go
package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the session. A nil *Metrics is a no-op.
type Metrics struct {
	requests   *prometheus.CounterVec
	delay      prometheus.Gauge
	reconnects prometheus.Counter
}

// NewMetrics registers the transport collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sun2000",
			Subsystem: "modbus",
			Name:      "requests_total",
			Help:      "Modbus requests by operation and result.",
		}, []string{"op", "result"}),
		delay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sun2000",
			Subsystem: "modbus",
			Name:      "delay_seconds",
			Help:      "Current inter-request delay.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sun2000",
			Subsystem: "modbus",
			Name:      "reconnects_total",
			Help:      "Socket recreations after transport faults.",
		}),
	}
	reg.MustRegister(m.requests, m.delay, m.reconnects)
	return m
}

func (m *Metrics) request(op, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, result).Inc()
}

func (m *Metrics) setDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.delay.Set(d.Seconds())
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
