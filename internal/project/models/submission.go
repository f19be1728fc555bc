package models

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Submission is a project record as received from a project owner.
// It is immutable once constructed: accessors hand out copies.
//
// Presence matters for validation, so absent values are kept distinguishable
// from zero values: a nil EmissionReduction, an empty date string and a nil
// DataSources slice all mean "not supplied".
type Submission struct {
	tokenID           int64
	emissionReduction *float64
	startDate         string
	endDate           string
	location          Location
	dataSources       []string
	additionalData    map[string]any
}

// SubmissionFields is the mutable input used to build a Submission.
type SubmissionFields struct {
	TokenID           int64
	EmissionReduction *float64
	StartDate         string
	EndDate           string
	Location          Location
	DataSources       []string
	AdditionalData    map[string]any
}

// NewSubmission copies f into an immutable Submission.
func NewSubmission(f SubmissionFields) Submission {
	s := Submission{
		tokenID:   f.TokenID,
		startDate: strings.TrimSpace(f.StartDate),
		endDate:   strings.TrimSpace(f.EndDate),
		location:  f.Location,
	}
	if f.EmissionReduction != nil {
		v := *f.EmissionReduction
		s.emissionReduction = &v
	}
	if f.DataSources != nil {
		s.dataSources = slices.Clone(f.DataSources)
	}
	if f.AdditionalData != nil {
		s.additionalData = maps.Clone(f.AdditionalData)
	}
	return s
}

func (s Submission) TokenID() int64     { return s.tokenID }
func (s Submission) Location() Location { return s.location }
func (s Submission) StartDate() string  { return s.startDate }
func (s Submission) EndDate() string    { return s.endDate }

// EmissionReduction returns the estimated reduction in tons and whether it was supplied.
func (s Submission) EmissionReduction() (float64, bool) {
	if s.emissionReduction == nil {
		return 0, false
	}
	return *s.emissionReduction, true
}

// DataSources returns a copy of the source tags and whether they were supplied.
func (s Submission) DataSources() ([]string, bool) {
	if s.dataSources == nil {
		return nil, false
	}
	return slices.Clone(s.dataSources), true
}

// DistinctSources returns the source tags with duplicates removed, preserving
// first-seen order.
func (s Submission) DistinctSources() []string {
	seen := make(map[string]struct{}, len(s.dataSources))
	out := make([]string, 0, len(s.dataSources))
	for _, src := range s.dataSources {
		src = strings.TrimSpace(src)
		if _, ok := seen[src]; ok || src == "" {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}

// AdditionalData returns a shallow copy of the extension map.
func (s Submission) AdditionalData() map[string]any {
	return maps.Clone(s.additionalData)
}

// DurationDays returns the whole days between start and end date.
// Absent, malformed or non-chronological dates return an error.
func (s Submission) DurationDays() (int, error) {
	if s.startDate == "" || s.endDate == "" {
		return 0, ErrMissingDates
	}
	start, err := ParseDate(s.startDate)
	if err != nil {
		return 0, fmt.Errorf("project_start_date: %w", err)
	}
	end, err := ParseDate(s.endDate)
	if err != nil {
		return 0, fmt.Errorf("project_end_date: %w", err)
	}
	if end.Before(start) {
		return 0, ErrNonChronological
	}
	return int(end.Sub(start) / (24 * time.Hour)), nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// ParseDate accepts ISO-8601 calendar dates and timestamps. Timestamps
// without an offset are read as UTC.
func ParseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedDate, value)
}

// Record is the JSON form of a submission stored alongside its attestation.
// Absent values are omitted.
type Record struct {
	TokenID           int64          `json:"tokenId"`
	EmissionReduction *float64       `json:"estimated_emission_reduction,omitempty"`
	StartDate         string         `json:"project_start_date,omitempty"`
	EndDate           string         `json:"project_end_date,omitempty"`
	Location          Location       `json:"location"`
	DataSources       []string       `json:"data_sources,omitempty"`
	AdditionalData    map[string]any `json:"additional_data,omitempty"`
}

// Record returns a detached copy of s for serialization.
func (s Submission) Record() Record {
	r := Record{
		TokenID:        s.tokenID,
		StartDate:      s.startDate,
		EndDate:        s.endDate,
		Location:       s.location,
		DataSources:    slices.Clone(s.dataSources),
		AdditionalData: maps.Clone(s.additionalData),
	}
	if s.emissionReduction != nil {
		v := *s.emissionReduction
		r.EmissionReduction = &v
	}
	return r
}
