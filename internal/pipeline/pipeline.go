// Package pipeline runs a submission through rule checks, anomaly scoring,
// signing, blob storage and ledger authorization.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carbonproof/internal/attestation"
	"carbonproof/internal/ledger"
	"carbonproof/internal/pipeline/metrics"
	"carbonproof/internal/project/models"
	"carbonproof/internal/validation/anomaly"
	"carbonproof/internal/validation/history"
	"carbonproof/internal/validation/rules"
	dErrors "carbonproof/pkg/domain-errors"
	audit "carbonproof/pkg/platform/audit"
	"carbonproof/pkg/requestcontext"
)

// ReasonVerified is the outcome reason for submissions that pass every check.
const ReasonVerified = "project validated successfully"

const (
	stageRules   = "rules"
	stageAnomaly = "anomaly"
	stageSign    = "sign"
	stageBlob    = "blob"
	stageLedger  = "ledger"
	stageHistory = "history"
)

const defaultBlobTimeout = 10 * time.Second

// Pipeline is safe for concurrent use. Only Authorize serializes, inside the
// ledger submitter.
type Pipeline struct {
	rules   RuleValidator
	scorer  AnomalyScorer
	signer  Signer
	blobs   BlobStore
	ledger  Authorizer
	history HistoryRecorder
	auditor AuditPublisher

	blobTimeout   time.Duration
	ledgerTimeout time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

func WithAuditor(a AuditPublisher) Option {
	return func(p *Pipeline) {
		p.auditor = a
	}
}

func WithHistory(h HistoryRecorder) Option {
	return func(p *Pipeline) {
		p.history = h
	}
}

// WithLedger enables authorization of VERIFIED outcomes.
func WithLedger(a Authorizer) Option {
	return func(p *Pipeline) {
		p.ledger = a
	}
}

func WithBlobTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.blobTimeout = d
		}
	}
}

// WithLedgerTimeout bounds how long Run waits for authorization. The
// submission itself keeps running after the wait is abandoned.
func WithLedgerTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.ledgerTimeout = d
	}
}

// WithClock overrides the outcome timestamp source. By default the
// request-scoped time is used.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func New(rules RuleValidator, scorer AnomalyScorer, signer Signer, blobs BlobStore, opts ...Option) (*Pipeline, error) {
	if rules == nil {
		return nil, errors.New("rule validator is required")
	}
	if scorer == nil {
		return nil, errors.New("anomaly scorer is required")
	}
	if signer == nil {
		return nil, errors.New("attestation signer is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	p := &Pipeline{
		rules:       rules,
		scorer:      scorer,
		signer:      signer,
		blobs:       blobs,
		blobTimeout: defaultBlobTimeout,
		logger:      slog.Default(),
		tracer:      otel.Tracer("carbonproof/internal/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run evaluates sub. It never returns a bare error: every failure is a Result kind.
func (p *Pipeline) Run(ctx context.Context, sub models.Submission) Result {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.Int64("project.id", sub.TokenID())))
	defer span.End()

	res := p.run(ctx, sub)

	span.SetAttributes(attribute.String("pipeline.kind", res.Kind.String()))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Kind.String())
	}
	p.metrics.ObserveRun(res.Kind.String(), time.Since(start))
	p.log(ctx, sub.TokenID(), res)
	p.emitOutcome(ctx, res)
	return res
}

func (p *Pipeline) run(ctx context.Context, sub models.Submission) Result {
	projectID := sub.TokenID()

	var ruleResult rules.Result
	err := p.stage(ctx, stageRules, func(context.Context) error {
		var err error
		ruleResult, err = p.rules.Evaluate(sub)
		return err
	})
	if err != nil {
		return Result{Kind: KindInputError, Err: err}
	}
	if ruleResult.Rejected {
		if failed, ok := ruleResult.Outcome.Failed(); ok {
			p.metrics.IncrementRejection(string(failed.Dimension))
		}
		outcome := models.NewOutcome(projectID, models.StatusRejected, ruleResult.Reason, ruleResult.Outcome, nil, p.clock(ctx))
		return p.attest(ctx, sub, outcome)
	}

	var scored models.AnomalyOutcome
	err = p.stage(ctx, stageAnomaly, func(context.Context) error {
		var err error
		scored, err = p.scorer.Score(sub)
		return err
	})
	if err != nil {
		if errors.Is(err, anomaly.ErrIncompleteFeatures) {
			return Result{Kind: KindInputError, Err: dErrors.Wrap(err, dErrors.CodeValidation, "submission lacks anomaly features")}
		}
		return Result{Kind: KindInfrastructureError, Err: dErrors.Wrap(err, dErrors.CodeUnavailable, "anomaly scoring unavailable")}
	}
	if scored.Anomalous {
		p.metrics.IncrementRejection("anomaly")
		reason := fmt.Sprintf("%s: score %.4f exceeds threshold %.4f", anomaly.ReasonAnomalyDetected, scored.Score, scored.Threshold)
		outcome := models.NewOutcome(projectID, models.StatusRejected, reason, ruleResult.Outcome, &scored, p.clock(ctx))
		return p.attest(ctx, sub, outcome)
	}

	outcome := models.NewOutcome(projectID, models.StatusVerified, ReasonVerified, ruleResult.Outcome, &scored, p.clock(ctx))
	res := p.attest(ctx, sub, outcome)
	if res.Kind != KindVerified {
		return res
	}
	p.record(ctx, sub, res.Attestation)
	return p.authorize(ctx, res)
}

// AuthorizeExisting resumes ledger authorization for a previously produced
// attestation without re-running validation.
func (p *Pipeline) AuthorizeExisting(ctx context.Context, att *attestation.Attestation) Result {
	ctx, span := p.tracer.Start(ctx, "pipeline.authorize_existing")
	defer span.End()

	if att == nil {
		return Result{Kind: KindInputError, Err: dErrors.New(dErrors.CodeBadRequest, "attestation is required")}
	}
	span.SetAttributes(attribute.Int64("project.id", att.Outcome.ProjectID))

	if err := p.signer.Verify(att); err != nil {
		return Result{Kind: KindInputError, Err: dErrors.Wrap(err, dErrors.CodeValidation, "attestation does not verify")}
	}
	outcome := att.Outcome
	if !outcome.Verified() {
		return Result{
			Kind:        KindInputError,
			Outcome:     &outcome,
			Attestation: att,
			Err:         dErrors.New(dErrors.CodeValidation, "only VERIFIED outcomes can be authorized"),
		}
	}
	res := p.authorize(ctx, Result{Kind: KindVerified, Outcome: &outcome, Attestation: att})
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Kind.String())
	}
	return res
}

// attest signs the outcome and stores the envelope. The returned kind is
// derived from the outcome status unless a step fails.
func (p *Pipeline) attest(ctx context.Context, sub models.Submission, outcome models.Outcome) Result {
	res := Result{Outcome: &outcome}

	err := p.stage(ctx, stageSign, func(context.Context) error {
		var err error
		res.Attestation, err = p.signer.Sign(outcome)
		return err
	})
	if err != nil {
		res.Kind = KindInfrastructureError
		res.Err = dErrors.Wrap(err, dErrors.CodeInternal, "sign outcome")
		return res
	}

	err = p.stage(ctx, stageBlob, func(ctx context.Context) error {
		payload, err := json.Marshal(attestation.Envelope{
			Attestation: res.Attestation,
			Submission:  sub.Record(),
			StoredAt:    p.clock(ctx).UTC(),
		})
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, p.blobTimeout)
		defer cancel()
		res.ContentAddress, err = p.blobs.Put(ctx, payload)
		return err
	})
	if err != nil {
		res.Kind = KindInfrastructureError
		res.Err = dErrors.Wrap(err, dErrors.CodeUnavailable, "store attestation")
		return res
	}

	res.Kind = KindRejected
	if outcome.Verified() {
		res.Kind = KindVerified
	}
	return res
}

func (p *Pipeline) authorize(ctx context.Context, res Result) Result {
	if p.ledger == nil {
		return res
	}
	projectID := res.Outcome.ProjectID
	err := p.stage(ctx, stageLedger, func(ctx context.Context) error {
		if p.ledgerTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.ledgerTimeout)
			defer cancel()
		}
		var err error
		res.Transaction, err = p.ledger.Authorize(ctx, projectID)
		return err
	})
	p.emitLedger(ctx, res, err)
	if err != nil {
		res.Kind = KindInfrastructureError
		code := dErrors.CodeUnavailable
		switch {
		case errors.Is(err, ledger.ErrReverted):
			code = dErrors.CodeConflict
		case errors.Is(err, context.DeadlineExceeded):
			code = dErrors.CodeTimeout
		}
		res.Err = dErrors.Wrap(err, code, "authorize on ledger")
	}
	return res
}

func (p *Pipeline) record(ctx context.Context, sub models.Submission, att *attestation.Attestation) {
	if p.history == nil {
		return
	}
	sample, err := anomaly.SampleOf(sub)
	if err != nil {
		return
	}
	sources, _ := sub.DataSources()
	err = p.stage(ctx, stageHistory, func(ctx context.Context) error {
		return p.history.Append(ctx, history.Record{
			ProjectID:   sub.TokenID(),
			Sample:      sample,
			DataSources: sources,
			ContentHash: att.ContentHash,
			RecordedAt:  att.Outcome.Timestamp,
		})
	})
	if err != nil {
		p.logger.WarnContext(ctx, "failed to record validation history",
			"project_id", sub.TokenID(),
			"error", err,
		)
	}
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	p.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return err
}

func (p *Pipeline) clock(ctx context.Context) time.Time {
	if p.now != nil {
		return p.now()
	}
	return requestcontext.Now(ctx)
}

func (p *Pipeline) log(ctx context.Context, projectID int64, res Result) {
	attrs := []any{"project_id", projectID, "kind", res.Kind.String()}
	if res.Outcome != nil {
		attrs = append(attrs, "reason", res.Outcome.Reason)
	}
	if res.Transaction != nil {
		attrs = append(attrs, "tx_hash", res.Transaction.TxHash, "ledger_status", res.Transaction.Status)
	}
	switch res.Kind {
	case KindInfrastructureError:
		p.logger.ErrorContext(ctx, "validation pipeline failed", append(attrs, "error", res.Err)...)
	case KindInputError:
		p.logger.InfoContext(ctx, "submission rejected as invalid input", append(attrs, "error", res.Err)...)
	default:
		p.logger.InfoContext(ctx, "validation pipeline completed", attrs...)
	}
}

func (p *Pipeline) emitOutcome(ctx context.Context, res Result) {
	if p.auditor == nil || res.Outcome == nil {
		return
	}
	event := p.event(ctx, audit.EventProjectValidated, res)
	event.Decision = string(res.Outcome.Status)
	event.Reason = res.Outcome.Reason
	if err := p.auditor.Emit(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}

func (p *Pipeline) emitLedger(ctx context.Context, res Result, authErr error) {
	if p.auditor == nil {
		return
	}
	action := audit.EventLedgerAuthorized
	if authErr != nil {
		action = audit.EventLedgerAuthorizeFailed
	}
	event := p.event(ctx, action, res)
	if res.Transaction != nil {
		event.Decision = string(res.Transaction.Status)
		event.TxHash = res.Transaction.TxHash
	}
	if authErr != nil {
		event.Reason = authErr.Error()
	}
	if err := p.auditor.Emit(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}

func (p *Pipeline) event(ctx context.Context, action audit.AuditEvent, res Result) audit.Event {
	event := audit.Event{
		Action:         string(action),
		ContentAddress: res.ContentAddress,
		RequestID:      requestcontext.RequestID(ctx),
		ActorID:        requestcontext.ActorID(ctx),
		ClientAgent:    requestcontext.ClientAgent(ctx),
	}
	if res.Outcome != nil {
		event.ProjectID = res.Outcome.ProjectID
	}
	if res.Attestation != nil {
		event.ContentHash = res.Attestation.ContentHash
		event.Signer = res.Attestation.Signer
	}
	return event
}
