package ledger

import (
	"context"
	"errors"
	"log/slog"
)

var ErrWorkerStopped = errors.New("ledger worker stopped")

type job struct {
	ctx       context.Context
	projectID int64
	result    chan jobResult
}

type jobResult struct {
	tx  *Transaction
	err error
}

type processFunc func(ctx context.Context, nonces *NonceManager, projectID int64) (*Transaction, error)

// worker is the single writer for one signer identity. It owns the nonce
// sequence, so jobs for that identity never interleave.
type worker struct {
	identity string
	jobs     chan job
	nonces   *NonceManager
	process  processFunc
	logger   *slog.Logger
	onDepth  func(int)
}

func newWorker(identity string, queueSize int, nonces *NonceManager, process processFunc, logger *slog.Logger, onDepth func(int)) *worker {
	return &worker{
		identity: identity,
		jobs:     make(chan job, queueSize),
		nonces:   nonces,
		process:  process,
		logger:   logger,
		onDepth:  onDepth,
	}
}

func (w *worker) run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "ledger worker started", "signer", w.identity)
	for {
		select {
		case <-ctx.Done():
			w.drain()
			w.logger.InfoContext(ctx, "ledger worker stopped", "signer", w.identity)
			return ctx.Err()
		case j := <-w.jobs:
			w.onDepth(len(w.jobs))
			tx, err := w.process(j.ctx, w.nonces, j.projectID)
			// result is buffered; an abandoned caller never blocks the worker
			j.result <- jobResult{tx: tx, err: err}
		}
	}
}

// drain fails jobs still queued at shutdown so their callers return.
func (w *worker) drain() {
	for {
		select {
		case j := <-w.jobs:
			j.result <- jobResult{err: ErrWorkerStopped}
		default:
			w.onDepth(0)
			return
		}
	}
}
