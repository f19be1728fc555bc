package anomaly

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"carbonproof/internal/project/models"
	"carbonproof/internal/validation/anomaly/metrics"
)

// ReasonAnomalyDetected is the rejection reason for anomalous submissions.
const ReasonAnomalyDetected = "anomaly detected in project data"

const defaultHistoryLimit = 5000

// HistorySource supplies past VERIFIED submissions for training.
type HistorySource interface {
	RecentSamples(ctx context.Context, limit int) ([]Sample, error)
}

// Scorer scores submissions against the currently published model.
// Scoring is lock-free: each call loads the model pointer once, so a
// concurrent swap is never observed mid-score.
type Scorer struct {
	model         atomic.Pointer[Model]
	group         singleflight.Group
	contamination float64
	historyLimit  int
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scorer) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scorer) {
		s.metrics = m
	}
}

// WithContamination sets the expected anomaly share used when fitting.
func WithContamination(c float64) Option {
	return func(s *Scorer) {
		if c > 0 {
			s.contamination = c
		}
	}
}

// WithHistoryLimit caps how many history samples Init trains on.
func WithHistoryLimit(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		s.now = now
	}
}

// New creates a Scorer with no model installed. Score returns
// ErrModelNotReady until Init, UpdateModel or Install publishes one.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		contamination: DefaultContamination,
		historyLimit:  defaultHistoryLimit,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init publishes the startup model: trained on persisted history when it
// holds enough samples, otherwise on the bundled baseline.
func (s *Scorer) Init(ctx context.Context, source HistorySource) error {
	if source != nil {
		samples, err := source.RecentSamples(ctx, s.historyLimit)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "anomaly history unavailable, using baseline", "error", err)
		case len(samples) >= MinTrainingSamples:
			_, err := s.fitAndPublish(samples, "history")
			if err == nil {
				return nil
			}
			s.logger.WarnContext(ctx, "anomaly history fit failed, using baseline", "error", err)
		default:
			s.logger.InfoContext(ctx, "anomaly history too small, using baseline", "samples", len(samples))
		}
	}

	baseline, err := BaselineSamples()
	if err != nil {
		return err
	}
	if _, err := s.fitAndPublish(baseline, "baseline"); err != nil {
		return fmt.Errorf("fit baseline model: %w", err)
	}
	return nil
}

// Score extracts features from sub and scores them against the current model.
// Incomplete features are an input error; a missing model is an
// infrastructure error.
func (s *Scorer) Score(sub models.Submission) (models.AnomalyOutcome, error) {
	m := s.model.Load()
	if m == nil {
		return models.AnomalyOutcome{}, ErrModelNotReady
	}
	features, err := Extract(sub)
	if err != nil {
		return models.AnomalyOutcome{}, err
	}
	anomalous, distance := m.Anomalous(features)
	s.metrics.ObserveScore(distance, anomalous)
	return models.AnomalyOutcome{
		Features:     features,
		Anomalous:    anomalous,
		Score:        distance,
		Threshold:    m.Threshold,
		ModelVersion: m.Version,
	}, nil
}

// UpdateModel fits a new model on samples and publishes it. Concurrent calls
// with an identical batch share one fit. The current model keeps serving
// until the swap.
func (s *Scorer) UpdateModel(ctx context.Context, samples []Sample) (*Model, error) {
	if len(samples) < MinTrainingSamples {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrInsufficientTraining, len(samples), MinTrainingSamples)
	}
	ch := s.group.DoChan(fingerprint(samples), func() (any, error) {
		return s.fitAndPublish(samples, "update")
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Model), nil
	}
}

// UpdateFromSubmissions trains on historical submissions. Submissions with
// incomplete features are skipped; the remainder must still meet
// MinTrainingSamples.
func (s *Scorer) UpdateFromSubmissions(ctx context.Context, subs []models.Submission) (*Model, error) {
	samples := make([]Sample, 0, len(subs))
	skipped := 0
	for _, sub := range subs {
		sample, err := SampleOf(sub)
		if err != nil {
			if errors.Is(err, ErrIncompleteFeatures) {
				skipped++
				continue
			}
			return nil, err
		}
		samples = append(samples, sample)
	}
	if skipped > 0 {
		s.logger.WarnContext(ctx, "skipped incomplete training submissions", "skipped", skipped, "kept", len(samples))
	}
	return s.UpdateModel(ctx, samples)
}

// Install publishes a pre-fitted model.
func (s *Scorer) Install(m *Model) {
	if m == nil {
		return
	}
	s.model.Store(m)
	s.metrics.ObserveSwap("install", m.Samples, m.Threshold)
}

// Current returns the published model, or nil.
func (s *Scorer) Current() *Model {
	return s.model.Load()
}

// Ready reports whether a model is published.
func (s *Scorer) Ready() bool {
	return s.model.Load() != nil
}

func (s *Scorer) fitAndPublish(samples []Sample, origin string) (*Model, error) {
	vectors := make([][]float64, len(samples))
	for i, sample := range samples {
		vectors[i] = sample.Vector()
	}
	m, err := Fit(vectors, s.contamination, s.now())
	if err != nil {
		return nil, err
	}
	s.model.Store(m)
	s.metrics.ObserveSwap(origin, m.Samples, m.Threshold)
	s.logger.Info("anomaly model published",
		"origin", origin,
		"version", m.Version,
		"samples", m.Samples,
		"threshold", m.Threshold,
	)
	return m, nil
}

func fingerprint(samples []Sample) string {
	h := sha256.New()
	var buf [8]byte
	for _, sample := range samples {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(sample.EmissionReduction))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(sample.DurationDays))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(sample.DistinctSources))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
