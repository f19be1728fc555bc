package rules

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"carbonproof/internal/project/models"
	dErrors "carbonproof/pkg/domain-errors"
)

// Rejection reasons. Callers match on the prefix, the suffix carries detail.
const (
	ReasonEmissionOutOfRange   = "emission reduction outside acceptable range"
	ReasonDurationOutOfRange   = "project duration outside acceptable range"
	ReasonMissingSources       = "missing required data sources"
	ReasonInsufficientSources  = "insufficient data sources"
	ReasonRuleValidationPassed = "rule-based validation passed"
)

// Thresholds holds the acceptable ranges for each rule dimension.
type Thresholds struct {
	MinEmissionReduction float64
	MaxEmissionReduction float64
	MinDurationDays      int
	MaxDurationDays      int
	MinSources           int
	RequiredSources      []string
}

// DefaultThresholds returns the registry's published acceptance ranges.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinEmissionReduction: 0,
		MaxEmissionReduction: 1_000_000,
		MinDurationDays:      30,
		MaxDurationDays:      3650,
		MinSources:           2,
		RequiredSources:      []string{"sensor", "satellite"},
	}
}

// Result is the output of a rule evaluation. A rejected result is a normal
// outcome, not an error.
type Result struct {
	Outcome  models.RuleOutcome
	Rejected bool
	Reason   string
}

// Validator applies the threshold rules. It is stateless and safe for
// concurrent use.
type Validator struct {
	thresholds Thresholds
}

// Option configures a Validator.
type Option func(*Validator)

// WithThresholds overrides the default thresholds.
func WithThresholds(t Thresholds) Option {
	return func(v *Validator) {
		t.RequiredSources = slices.Clone(t.RequiredSources)
		v.thresholds = t
	}
}

// New constructs a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{thresholds: DefaultThresholds()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Thresholds returns the configured thresholds.
func (v *Validator) Thresholds() Thresholds {
	t := v.thresholds
	t.RequiredSources = slices.Clone(t.RequiredSources)
	return t
}

// Evaluate applies the rule chain to a submission.
// This is pure domain logic - no I/O, no side effects.
// Rule priority (fail-fast):
//  1. Emission reduction range
//  2. Project duration range
//  3. Data source composition
//
// Missing or malformed fields return a CodeValidation error rather than a
// rejection: the project cannot be judged, so nothing is signed for it.
func (v *Validator) Evaluate(sub models.Submission) (Result, error) {
	var outcome models.RuleOutcome

	// Rule 1: Emission reduction
	reduction, ok := sub.EmissionReduction()
	if !ok {
		return Result{}, dErrors.New(dErrors.CodeValidation, "estimated_emission_reduction is required")
	}
	if math.IsNaN(reduction) || math.IsInf(reduction, 0) {
		return Result{}, dErrors.New(dErrors.CodeValidation, "estimated_emission_reduction must be a finite number")
	}
	if reduction < v.thresholds.MinEmissionReduction || reduction > v.thresholds.MaxEmissionReduction {
		return v.reject(outcome, models.DimensionResult{
			Dimension: models.DimensionEmissionReduction,
			Value:     reduction,
			Detail:    fmt.Sprintf("allowed %g-%g", v.thresholds.MinEmissionReduction, v.thresholds.MaxEmissionReduction),
		}, ReasonEmissionOutOfRange), nil
	}
	outcome.Dimensions = append(outcome.Dimensions, models.DimensionResult{
		Dimension: models.DimensionEmissionReduction,
		Passed:    true,
		Value:     reduction,
	})

	// Rule 2: Project duration
	days, err := sub.DurationDays()
	if err != nil {
		return Result{}, durationError(err)
	}
	if days < v.thresholds.MinDurationDays || days > v.thresholds.MaxDurationDays {
		return v.reject(outcome, models.DimensionResult{
			Dimension: models.DimensionProjectDuration,
			Value:     days,
			Detail:    fmt.Sprintf("allowed %d-%d days", v.thresholds.MinDurationDays, v.thresholds.MaxDurationDays),
		}, fmt.Sprintf("%s: %d days (allowed %d-%d)", ReasonDurationOutOfRange, days, v.thresholds.MinDurationDays, v.thresholds.MaxDurationDays)), nil
	}
	outcome.Dimensions = append(outcome.Dimensions, models.DimensionResult{
		Dimension: models.DimensionProjectDuration,
		Passed:    true,
		Value:     days,
	})

	// Rule 3: Data sources
	if _, ok := sub.DataSources(); !ok {
		return Result{}, dErrors.New(dErrors.CodeValidation, "data_sources is required")
	}
	sources := sub.DistinctSources()
	if missing := v.missingSources(sources); len(missing) > 0 {
		return v.reject(outcome, models.DimensionResult{
			Dimension: models.DimensionDataSources,
			Value:     sources,
			Detail:    "missing " + strings.Join(missing, ", "),
		}, fmt.Sprintf("%s: %s", ReasonMissingSources, strings.Join(missing, ", "))), nil
	}
	if len(sources) < v.thresholds.MinSources {
		return v.reject(outcome, models.DimensionResult{
			Dimension: models.DimensionDataSources,
			Value:     sources,
			Detail:    fmt.Sprintf("minimum %d", v.thresholds.MinSources),
		}, fmt.Sprintf("%s: %d (minimum %d)", ReasonInsufficientSources, len(sources), v.thresholds.MinSources)), nil
	}
	outcome.Dimensions = append(outcome.Dimensions, models.DimensionResult{
		Dimension: models.DimensionDataSources,
		Passed:    true,
		Value:     sources,
	})

	return Result{Outcome: outcome, Reason: ReasonRuleValidationPassed}, nil
}

func (v *Validator) reject(outcome models.RuleOutcome, failed models.DimensionResult, reason string) Result {
	failed.Passed = false
	outcome.Dimensions = append(outcome.Dimensions, failed)
	return Result{Outcome: outcome, Rejected: true, Reason: reason}
}

// missingSources returns required sources absent from sources, in required order.
func (v *Validator) missingSources(sources []string) []string {
	var missing []string
	for _, req := range v.thresholds.RequiredSources {
		if !slices.Contains(sources, req) {
			missing = append(missing, req)
		}
	}
	return missing
}

func durationError(err error) error {
	switch {
	case errors.Is(err, models.ErrMissingDates):
		return dErrors.Wrap(err, dErrors.CodeValidation, "project_start_date and project_end_date are required")
	case errors.Is(err, models.ErrNonChronological):
		return dErrors.Wrap(err, dErrors.CodeValidation, "project_end_date must not precede project_start_date")
	default:
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid project date")
	}
}
