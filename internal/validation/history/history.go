// Package history records VERIFIED submissions as anomaly training samples.
package history

import (
	"context"
	"time"

	"carbonproof/internal/validation/anomaly"
)

// Record is one verified submission's training sample.
type Record struct {
	ProjectID   int64
	Sample      anomaly.Sample
	DataSources []string
	ContentHash string
	RecordedAt  time.Time
}

// Store persists records and serves the most recent samples for training.
type Store interface {
	anomaly.HistorySource
	Append(ctx context.Context, rec Record) error
}
