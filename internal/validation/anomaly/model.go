package anomaly

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// MinTrainingSamples is the smallest batch a model may be fitted on.
	MinTrainingSamples = 10
	// DefaultContamination is the expected share of anomalies in training data.
	DefaultContamination = 0.10
	// minStdDev floors per-feature spread in normalized units so a constant
	// feature does not yield infinite z-scores.
	minStdDev = 0.01
)

var (
	ErrInsufficientTraining = errors.New("insufficient training samples")
	ErrModelNotReady        = errors.New("anomaly model not ready")
)

// Model is a fitted diagonal-Gaussian envelope. A Model is immutable once
// returned by Fit.
type Model struct {
	Version       string    `json:"version"`
	Mean          []float64 `json:"mean"`
	StdDev        []float64 `json:"std_dev"`
	Threshold     float64   `json:"threshold"`
	Contamination float64   `json:"contamination"`
	Samples       int       `json:"samples"`
	TrainedAt     time.Time `json:"trained_at"`
}

// Fit trains a model on normalized feature vectors. The threshold is the
// empirical (1 - contamination) quantile of the training distances.
func Fit(vectors [][]float64, contamination float64, at time.Time) (*Model, error) {
	if len(vectors) < MinTrainingSamples {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrInsufficientTraining, len(vectors), MinTrainingSamples)
	}
	if contamination <= 0 || contamination >= 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5), got %g", contamination)
	}
	for i, v := range vectors {
		if len(v) != FeatureCount {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(v), FeatureCount)
		}
	}

	m := &Model{
		Mean:          make([]float64, FeatureCount),
		StdDev:        make([]float64, FeatureCount),
		Contamination: contamination,
		Samples:       len(vectors),
		TrainedAt:     at.UTC(),
	}
	column := make([]float64, len(vectors))
	for j := range FeatureCount {
		for i, v := range vectors {
			column[i] = v[j]
		}
		mean, std := stat.MeanStdDev(column, nil)
		m.Mean[j] = mean
		m.StdDev[j] = max(std, minStdDev)
	}

	distances := make([]float64, len(vectors))
	for i, v := range vectors {
		distances[i] = m.Distance(v)
	}
	slices.Sort(distances)
	m.Threshold = stat.Quantile(1-contamination, stat.Empirical, distances, nil)
	m.Version = fmt.Sprintf("gauss-%d-%d", m.TrainedAt.Unix(), m.Samples)
	return m, nil
}

// Distance is the Euclidean norm of the per-feature z-scores of x.
func (m *Model) Distance(x []float64) float64 {
	z := make([]float64, len(x))
	for j := range x {
		z[j] = (x[j] - m.Mean[j]) / m.StdDev[j]
	}
	return floats.Norm(z, 2)
}

// Anomalous reports whether x falls outside the envelope.
func (m *Model) Anomalous(x []float64) (bool, float64) {
	d := m.Distance(x)
	return d > m.Threshold, d
}
