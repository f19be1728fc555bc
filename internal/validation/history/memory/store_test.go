package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbonproof/internal/validation/anomaly"
	"carbonproof/internal/validation/history"
)

func TestStore_RecentSamplesNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, s.Append(ctx, history.Record{
			ProjectID:  int64(i),
			Sample:     anomaly.Sample{EmissionReduction: float64(i), DurationDays: 365, DistinctSources: 2},
			RecordedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := s.RecentSamples(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 4.0, got[0].EmissionReduction)
	assert.Equal(t, 2.0, got[2].EmissionReduction)
}

func TestStore_AppendReplacesProject(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, history.Record{ProjectID: 1, Sample: anomaly.Sample{EmissionReduction: 1}}))
	require.NoError(t, s.Append(ctx, history.Record{ProjectID: 1, Sample: anomaly.Sample{EmissionReduction: 2}}))

	assert.Equal(t, 1, s.Len())
	got, err := s.RecentSamples(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got[0].EmissionReduction)
}
