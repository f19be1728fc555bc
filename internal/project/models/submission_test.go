package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestSubmission_IsImmutable(t *testing.T) {
	sources := []string{"sensor", "satellite"}
	extra := map[string]any{"registry": "gold"}
	sub := NewSubmission(SubmissionFields{
		TokenID:           7,
		EmissionReduction: ptr(100),
		StartDate:         "2024-01-01",
		EndDate:           "2025-01-01",
		DataSources:       sources,
		AdditionalData:    extra,
	})

	sources[0] = "drone"
	extra["registry"] = "none"

	got, ok := sub.DataSources()
	require.True(t, ok)
	assert.Equal(t, []string{"sensor", "satellite"}, got)
	assert.Equal(t, "gold", sub.AdditionalData()["registry"])

	got[1] = "tampered"
	again, _ := sub.DataSources()
	assert.Equal(t, "satellite", again[1])
}

func TestSubmission_PresenceIsTracked(t *testing.T) {
	sub := NewSubmission(SubmissionFields{TokenID: 1})

	_, ok := sub.EmissionReduction()
	assert.False(t, ok)
	_, ok = sub.DataSources()
	assert.False(t, ok)

	empty := NewSubmission(SubmissionFields{DataSources: []string{}})
	got, ok := empty.DataSources()
	assert.True(t, ok, "empty list is present, not absent")
	assert.Empty(t, got)
}

func TestSubmission_DistinctSources(t *testing.T) {
	sub := NewSubmission(SubmissionFields{DataSources: []string{"sensor", " sensor", "satellite", "", "sensor2"}})
	assert.Equal(t, []string{"sensor", "satellite", "sensor2"}, sub.DistinctSources())
}

func TestSubmission_DurationDays(t *testing.T) {
	cases := []struct {
		name    string
		start   string
		end     string
		want    int
		wantErr error
	}{
		{name: "calendar dates", start: "2023-01-01", end: "2024-01-01", want: 365},
		{name: "timestamps", start: "2023-01-01T00:00:00Z", end: "2023-01-15T00:00:00Z", want: 14},
		{name: "naive timestamps", start: "2023-01-01T12:00:00", end: "2023-01-31T11:00:00", want: 29},
		{name: "same day", start: "2023-03-01", end: "2023-03-01", want: 0},
		{name: "missing end", start: "2023-03-01", wantErr: ErrMissingDates},
		{name: "malformed", start: "invalid-date", end: "2023-03-01", wantErr: ErrMalformedDate},
		{name: "reversed", start: "2024-01-01", end: "2023-01-01", wantErr: ErrNonChronological},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := NewSubmission(SubmissionFields{StartDate: tc.start, EndDate: tc.end})
			got, err := sub.DurationDays()
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewOutcome_CopiesAndNormalizes(t *testing.T) {
	dims := []DimensionResult{{Dimension: DimensionEmissionReduction, Passed: true, Value: 10.0}}
	anomaly := &AnomalyOutcome{Features: []float64{0.1, 0.2, 0.3}}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	o := NewOutcome(9, StatusVerified, "ok", RuleOutcome{Dimensions: dims}, anomaly, at)

	dims[0].Passed = false
	anomaly.Features[0] = 99

	assert.True(t, o.Rules.Passed())
	assert.Equal(t, 0.1, o.Anomaly.Features[0])
	assert.Equal(t, time.UTC, o.Timestamp.Location())
	assert.True(t, o.Verified())
}

func TestSubmission_RecordIsDetached(t *testing.T) {
	reduction := 1200.5
	sub := NewSubmission(SubmissionFields{
		TokenID:           9,
		EmissionReduction: &reduction,
		DataSources:       []string{"sensor"},
	})

	rec := sub.Record()
	rec.DataSources[0] = "changed"
	*rec.EmissionReduction = 0

	sources, _ := sub.DataSources()
	assert.Equal(t, []string{"sensor"}, sources)
	got, _ := sub.EmissionReduction()
	assert.Equal(t, 1200.5, got)

	assert.Nil(t, NewSubmission(SubmissionFields{TokenID: 1}).Record().EmissionReduction)
}
