package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the anomaly scorer.
type Metrics struct {
	ModelSwaps     *prometheus.CounterVec
	ModelSamples   prometheus.Gauge
	ModelThreshold prometheus.Gauge
	ScoreDistance  prometheus.Histogram
	Anomalies      prometheus.Counter
}

// New creates a new Metrics instance with all anomaly metrics registered.
func New() *Metrics {
	return &Metrics{
		ModelSwaps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonproof_anomaly_model_swaps_total",
			Help: "Total anomaly model publications by origin",
		}, []string{"origin"}), // origin: "history", "baseline", "update"

		ModelSamples: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "carbonproof_anomaly_model_samples",
			Help: "Number of training samples behind the active anomaly model",
		}),

		ModelThreshold: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "carbonproof_anomaly_model_threshold",
			Help: "Decision threshold of the active anomaly model",
		}),

		ScoreDistance: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "carbonproof_anomaly_score_distance",
			Help:    "Distribution of anomaly distances for scored submissions",
			Buckets: []float64{0.5, 1, 1.5, 2, 2.5, 3, 5, 10, 50},
		}),

		Anomalies: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carbonproof_anomaly_detected_total",
			Help: "Total submissions flagged as anomalous",
		}),
	}
}

// ObserveSwap records a model publication.
func (m *Metrics) ObserveSwap(origin string, samples int, threshold float64) {
	if m != nil {
		m.ModelSwaps.WithLabelValues(origin).Inc()
		m.ModelSamples.Set(float64(samples))
		m.ModelThreshold.Set(threshold)
	}
}

// ObserveScore records a scored distance.
func (m *Metrics) ObserveScore(distance float64, anomalous bool) {
	if m != nil {
		m.ScoreDistance.Observe(distance)
		if anomalous {
			m.Anomalies.Inc()
		}
	}
}
