package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the validation pipeline.
type Metrics struct {
	// Runs by result kind
	Runs *prometheus.CounterVec

	// Rejections by reason dimension ("emission_reduction", "anomaly", ...)
	Rejections *prometheus.CounterVec

	StageLatency *prometheus.HistogramVec
	RunLatency   prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonproof_pipeline_runs_total",
			Help: "Validation pipeline runs by result kind",
		}, []string{"kind"}),

		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonproof_pipeline_rejections_total",
			Help: "Rejected submissions by failing check",
		}, []string{"check"}),

		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carbonproof_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"stage"}),

		RunLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "carbonproof_pipeline_run_duration_seconds",
			Help:    "End-to-end pipeline run duration",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120, 300},
		}),
	}
}

func (m *Metrics) ObserveRun(kind string, d time.Duration) {
	if m != nil {
		m.Runs.WithLabelValues(kind).Inc()
		m.RunLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementRejection(check string) {
	if m != nil {
		m.Rejections.WithLabelValues(check).Inc()
	}
}
