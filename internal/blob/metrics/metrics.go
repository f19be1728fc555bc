package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for blob storage.
type Metrics struct {
	PutLatency *prometheus.HistogramVec

	// Puts by backend and result
	Puts *prometheus.CounterVec

	// 1 while the primary backend's breaker is open
	Degraded prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		PutLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carbonproof_blob_put_duration_seconds",
			Help:    "Duration of blob put calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"backend"}),

		Puts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonproof_blob_puts_total",
			Help: "Blob puts by backend and result",
		}, []string{"backend", "result"}), // result: "ok", "error", "skipped"

		Degraded: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "carbonproof_blob_degraded",
			Help: "Whether blob writes are routed to the fallback backend",
		}),
	}
}

func (m *Metrics) ObservePut(backend, result string, d time.Duration) {
	if m != nil {
		m.Puts.WithLabelValues(backend, result).Inc()
		if result != "skipped" {
			m.PutLatency.WithLabelValues(backend).Observe(d.Seconds())
		}
	}
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m != nil {
		v := 0.0
		if degraded {
			v = 1
		}
		m.Degraded.Set(v)
	}
}
