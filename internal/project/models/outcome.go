package models

import (
	"slices"
	"time"
)

// Status is the verdict of a validation run.
type Status string

const (
	StatusVerified Status = "VERIFIED"
	StatusRejected Status = "REJECTED"
)

// Dimension names a rule dimension. Dimensions are evaluated in declaration order.
type Dimension string

const (
	DimensionEmissionReduction Dimension = "emission_reduction"
	DimensionProjectDuration   Dimension = "project_duration"
	DimensionDataSources       Dimension = "data_sources"
)

// DimensionResult records the evaluation of a single rule dimension.
type DimensionResult struct {
	Dimension Dimension `json:"dimension"`
	Passed    bool      `json:"passed"`
	Value     any       `json:"value"`
	Detail    string    `json:"detail,omitempty"`
}

// RuleOutcome lists evaluated dimensions in evaluation order. Evaluation
// stops at the first failure, so dimensions after it are absent.
type RuleOutcome struct {
	Dimensions []DimensionResult `json:"dimensions"`
}

// Passed reports whether every evaluated dimension passed.
func (r RuleOutcome) Passed() bool {
	for _, d := range r.Dimensions {
		if !d.Passed {
			return false
		}
	}
	return true
}

// Failed returns the failing dimension, if any.
func (r RuleOutcome) Failed() (DimensionResult, bool) {
	for _, d := range r.Dimensions {
		if !d.Passed {
			return d, true
		}
	}
	return DimensionResult{}, false
}

// AnomalyOutcome is the scorer's view of a submission.
type AnomalyOutcome struct {
	Features     []float64 `json:"features"`
	Anomalous    bool      `json:"anomalous"`
	Score        float64   `json:"score"`
	Threshold    float64   `json:"threshold"`
	ModelVersion string    `json:"model_version"`
}

// Outcome is the immutable result of validating one submission.
type Outcome struct {
	ProjectID int64           `json:"project_id"`
	Status    Status          `json:"status"`
	Reason    string          `json:"reason"`
	Rules     RuleOutcome     `json:"rules"`
	Anomaly   *AnomalyOutcome `json:"anomaly,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewOutcome builds an Outcome, deep-copying the rule and anomaly records and
// normalizing the timestamp to UTC.
func NewOutcome(projectID int64, status Status, reason string, rules RuleOutcome, anomaly *AnomalyOutcome, at time.Time) Outcome {
	o := Outcome{
		ProjectID: projectID,
		Status:    status,
		Reason:    reason,
		Rules:     RuleOutcome{Dimensions: slices.Clone(rules.Dimensions)},
		Timestamp: at.UTC(),
	}
	if anomaly != nil {
		a := *anomaly
		a.Features = slices.Clone(anomaly.Features)
		o.Anomaly = &a
	}
	return o
}

// Verified reports whether the outcome authorizes a ledger update.
func (o Outcome) Verified() bool {
	return o.Status == StatusVerified
}
