package pipeline

import (
	"context"

	"carbonproof/internal/attestation"
	"carbonproof/internal/ledger"
	"carbonproof/internal/project/models"
	"carbonproof/internal/validation/history"
	"carbonproof/internal/validation/rules"
	audit "carbonproof/pkg/platform/audit"
)

type RuleValidator interface {
	Evaluate(sub models.Submission) (rules.Result, error)
}

type AnomalyScorer interface {
	Score(sub models.Submission) (models.AnomalyOutcome, error)
}

type Signer interface {
	Sign(outcome models.Outcome) (*attestation.Attestation, error)
	Verify(att *attestation.Attestation) error
}

type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, projectID int64) (*ledger.Transaction, error)
}

// HistoryRecorder receives VERIFIED submissions for future model training.
type HistoryRecorder interface {
	Append(ctx context.Context, rec history.Record) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
