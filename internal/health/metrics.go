package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for health probes. A nil *Metrics is
// a no-op.
type Metrics struct {
	probesTotal *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

// NewMetrics creates health metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "probes_total",
				Help:      "Total number of health probes served by probe type and result",
			},
			[]string{"probe", "result"},
		),
		checkStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Current health check status (1=healthy, 0=unhealthy)",
			},
			[]string{"check"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.probesTotal, m.checkStatus)
	}

	// Vec types only emit lines after the first WithLabelValues.
	for _, probe := range []string{"liveness", "readiness", "health"} {
		m.probesTotal.WithLabelValues(probe, StatusOK)
	}

	return m
}

func (m *Metrics) recordProbe(probe string, ok bool) {
	if m == nil {
		return
	}
	result := StatusOK
	if !ok {
		result = StatusError
	}
	m.probesTotal.WithLabelValues(probe, result).Inc()
}

func (m *Metrics) setCheckStatus(check string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.checkStatus.WithLabelValues(check).Set(v)
}
