package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for ledger submission.
type Metrics struct {
	// Attempts by step outcome
	Attempts *prometheus.CounterVec

	// Jobs by terminal status
	Results *prometheus.CounterVec

	// End-to-end job latency including retries
	JobLatency prometheus.Histogram

	// Jobs waiting for the signer worker
	QueueDepth prometheus.Gauge

	RoleCacheHits prometheus.Counter
}

// New creates a new Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonproof_ledger_attempts_total",
			Help: "Ledger submission attempts by result",
		}, []string{"result"}), // result: "confirmed", "already_verified", "retry", "reverted"

		Results: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonproof_ledger_results_total",
			Help: "Ledger authorization jobs by terminal status",
		}, []string{"status"}),

		JobLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "carbonproof_ledger_job_duration_seconds",
			Help:    "Duration of ledger authorization jobs including retries",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "carbonproof_ledger_queue_depth",
			Help: "Authorization jobs queued for the signer worker",
		}),

		RoleCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "carbonproof_ledger_role_cache_hits_total",
			Help: "Validator role checks served from cache",
		}),
	}
}

func (m *Metrics) IncrementAttempt(result string) {
	if m != nil {
		m.Attempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveResult(status string, d time.Duration) {
	if m != nil {
		m.Results.WithLabelValues(status).Inc()
		m.JobLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) IncrementRoleCacheHit() {
	if m != nil {
		m.RoleCacheHits.Inc()
	}
}
