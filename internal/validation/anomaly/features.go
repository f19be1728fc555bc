package anomaly

import (
	"errors"
	"fmt"

	"carbonproof/internal/project/models"
)

// Feature scales. Each raw value is divided by its scale so that every
// feature lands roughly in [0, 1].
const (
	EmissionScale = 1_000_000.0
	DurationScale = 3650.0
	SourcesScale  = 5.0
)

// FeatureCount is the fixed length of a feature vector.
const FeatureCount = 3

var ErrIncompleteFeatures = errors.New("incomplete anomaly features")

// Sample is one training record in raw units.
type Sample struct {
	EmissionReduction float64 `json:"emission_reduction"`
	DurationDays      int     `json:"duration_days"`
	DistinctSources   int     `json:"distinct_sources"`
}

// Vector returns the normalized feature vector for the sample.
func (s Sample) Vector() []float64 {
	return []float64{
		s.EmissionReduction / EmissionScale,
		float64(s.DurationDays) / DurationScale,
		float64(s.DistinctSources) / SourcesScale,
	}
}

// SampleOf extracts a raw training sample from a submission. Every field is
// required; absent fields are never zero-filled.
func SampleOf(sub models.Submission) (Sample, error) {
	reduction, ok := sub.EmissionReduction()
	if !ok {
		return Sample{}, fmt.Errorf("%w: estimated_emission_reduction missing", ErrIncompleteFeatures)
	}
	days, err := sub.DurationDays()
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %w", ErrIncompleteFeatures, err)
	}
	if _, ok := sub.DataSources(); !ok {
		return Sample{}, fmt.Errorf("%w: data_sources missing", ErrIncompleteFeatures)
	}
	return Sample{
		EmissionReduction: reduction,
		DurationDays:      days,
		DistinctSources:   len(sub.DistinctSources()),
	}, nil
}

// Extract returns the normalized feature vector
// [emission/1e6, days/3650, distinctSources/5] for a submission.
func Extract(sub models.Submission) ([]float64, error) {
	s, err := SampleOf(sub)
	if err != nil {
		return nil, err
	}
	return s.Vector(), nil
}
