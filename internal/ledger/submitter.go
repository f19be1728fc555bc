package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"carbonproof/internal/ledger/metrics"
	"carbonproof/pkg/platform/sentinel"
)

// Submitter drives verified projects to a terminal ledger state. All
// state-changing calls for the signer identity go through one worker.
type Submitter struct {
	chain   Chain
	store   Store
	lock    Lock
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	roles  *expirable.LRU[string, bool]
	roleMu sync.Mutex
	role   *[32]byte

	worker *worker
}

// Option configures a Submitter.
type Option func(*Submitter)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Submitter) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) {
		s.metrics = m
	}
}

// WithLock serializes the signer identity across replicas.
func WithLock(lock Lock) Option {
	return func(s *Submitter) {
		s.lock = lock
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Submitter) {
		s.cfg = cfg
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Submitter) {
		s.now = now
	}
}

// New creates a Submitter. Call Run to start its worker.
func New(chain Chain, store Store, opts ...Option) (*Submitter, error) {
	if chain == nil {
		return nil, errors.New("ledger chain is required")
	}
	if store == nil {
		return nil, errors.New("transaction store is required")
	}
	s := &Submitter{
		chain:  chain,
		store:  store,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.withDefaults()
	s.roles = expirable.NewLRU[string, bool](s.cfg.RoleCacheSize, nil, s.cfg.RoleCacheTTL)
	s.worker = newWorker(
		chain.Sender(),
		s.cfg.QueueSize,
		NewNonceManager(chain.PendingNonce),
		s.process,
		s.logger,
		s.metrics.SetQueueDepth,
	)
	return s, nil
}

// Run processes authorization jobs until ctx is cancelled.
func (s *Submitter) Run(ctx context.Context) error {
	return s.worker.run(ctx)
}

// Authorize records the project as verified on the ledger. It is idempotent:
// a project already verified on-chain or already CONFIRMED locally is
// returned without a new write. A locally REVERTED record is terminal.
//
// Cancelling ctx stops the wait, not the submission. Resolve the outcome
// later with GetStatus.
func (s *Submitter) Authorize(ctx context.Context, projectID int64) (*Transaction, error) {
	existing, err := s.lookup(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case StatusConfirmed:
			return existing, nil
		case StatusReverted:
			return existing, fmt.Errorf("project %d: %w", projectID, ErrReverted)
		}
	}

	j := job{
		ctx:       context.WithoutCancel(ctx),
		projectID: projectID,
		result:    make(chan jobResult, 1),
	}
	select {
	case s.worker.jobs <- j:
		s.metrics.SetQueueDepth(len(s.worker.jobs))
	case <-ctx.Done():
		return nil, fmt.Errorf("enqueue ledger job for project %d: %w", projectID, ctx.Err())
	}

	select {
	case r := <-j.result:
		return r.tx, r.err
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "stopped waiting for ledger job; submission continues",
			"project_id", projectID,
		)
		return nil, fmt.Errorf("await ledger job for project %d: %w", projectID, ctx.Err())
	}
}

// GetStatus reads the ledger first and reconciles the stored record with it.
func (s *Submitter) GetStatus(ctx context.Context, projectID int64) (Status, error) {
	onChain, err := s.projectStatus(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("read ledger status for project %d: %w", projectID, err)
	}
	tx, err := s.lookup(ctx, projectID)
	if err != nil {
		return "", err
	}

	if onChain == ChainVerified {
		if tx != nil && tx.Status != StatusConfirmed {
			tx.Status = StatusConfirmed
			tx.LastError = ""
			tx.UpdatedAt = s.now()
			if err := s.store.Save(ctx, tx); err != nil {
				s.logger.ErrorContext(ctx, "failed to persist reconciled status", "project_id", projectID, "error", err)
			}
		}
		return StatusConfirmed, nil
	}
	if tx == nil {
		return StatusNotSubmitted, nil
	}

	if tx.Status == StatusPending && tx.TxHash != "" {
		receipt, err := s.receipt(ctx, tx.TxHash)
		if err == nil && !receipt.Success {
			tx.Status = StatusReverted
			tx.LastError = fmt.Sprintf("%v: tx %s", ErrReverted, receipt.TxHash)
			tx.UpdatedAt = s.now()
			if err := s.store.Save(ctx, tx); err != nil {
				s.logger.ErrorContext(ctx, "failed to persist reconciled status", "project_id", projectID, "error", err)
			}
		}
	}
	return tx.Status, nil
}

// Transaction returns the stored record for a project.
func (s *Submitter) Transaction(ctx context.Context, projectID int64) (*Transaction, error) {
	tx, err := s.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return tx.Clone(), nil
}

// HasRole reports whether account holds the registry's validator role.
// Answers are cached for RoleCacheTTL.
func (s *Submitter) HasRole(ctx context.Context, account string) (bool, error) {
	key := strings.ToLower(account)
	if has, ok := s.roles.Get(key); ok {
		s.metrics.IncrementRoleCacheHit()
		return has, nil
	}
	role, err := s.validatorRole(ctx)
	if err != nil {
		return false, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	has, err := s.chain.HasRole(callCtx, role, account)
	if err != nil {
		return false, fmt.Errorf("check validator role: %w", err)
	}
	s.roles.Add(key, has)
	return has, nil
}

// Sender returns the signer identity.
func (s *Submitter) Sender() string {
	return s.chain.Sender()
}

func (s *Submitter) validatorRole(ctx context.Context) ([32]byte, error) {
	s.roleMu.Lock()
	defer s.roleMu.Unlock()
	if s.role != nil {
		return *s.role, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	role, err := s.chain.ValidatorRole(callCtx)
	if err != nil {
		return [32]byte{}, fmt.Errorf("read validator role: %w", err)
	}
	s.role = &role
	return role, nil
}

// process runs one authorization job on the worker goroutine.
func (s *Submitter) process(ctx context.Context, nonces *NonceManager, projectID int64) (*Transaction, error) {
	start := s.now()
	tx, err := s.lookup(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		// an earlier queued job may have finished this project
		switch tx.Status {
		case StatusConfirmed:
			return tx, nil
		case StatusReverted:
			return tx, fmt.Errorf("project %d: %w", projectID, ErrReverted)
		}
	} else {
		tx = &Transaction{ProjectID: projectID, CreatedAt: start}
	}
	tx.Status = StatusPending
	tx.Retries = 0
	tx.LastError = ""
	tx.UpdatedAt = start

	release, err := s.acquire(ctx)
	if err != nil {
		return s.finish(ctx, tx, err, start)
	}
	defer release()
	if s.lock != nil {
		// another replica may have advanced the sequence while we waited
		nonces.Invalidate()
	}

	if err := s.store.Save(ctx, tx); err != nil {
		return s.finish(ctx, tx, fmt.Errorf("persist pending transaction: %w", err), start)
	}

	// sent is false while this job holds a reserved nonce the chain has not
	// accepted. A stored call was reserved by an earlier job and may be in
	// the mempool already.
	var call *SignedCall
	sent := true
	if tx.TxHash != "" && len(tx.RawTx) > 0 {
		call = &SignedCall{Hash: tx.TxHash, Nonce: tx.Nonce, Raw: tx.RawTx}
	}

	attempt := 0
	op := func() error {
		attempt++
		return s.attempt(ctx, nonces, tx, &call, &sent, attempt)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.cfg.MaxAttempts-1)), ctx)
	err = backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		tx.Retries++
		tx.LastError = err.Error()
		s.metrics.IncrementAttempt("retry")
		s.logger.WarnContext(ctx, "ledger attempt failed, retrying",
			"project_id", projectID,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	})
	switch {
	case err != nil && !errors.Is(err, ErrReverted):
		nonces.Invalidate()
	case call != nil && !sent:
		// Finished without broadcasting the reserved nonce; reseed from the
		// chain so the next job does not sign past a gap.
		s.logger.InfoContext(ctx, "releasing unused nonce", "project_id", projectID, "nonce", call.Nonce)
		nonces.Invalidate()
		tx.TxHash, tx.Nonce, tx.RawTx = "", 0, nil
	}
	return s.finish(ctx, tx, err, start)
}

// attempt performs one read-broadcast-confirm round.
func (s *Submitter) attempt(ctx context.Context, nonces *NonceManager, tx *Transaction, call **SignedCall, sent *bool, n int) error {
	onChain, err := s.projectStatus(ctx, tx.ProjectID)
	if err != nil {
		return classify(err)
	}
	if onChain == ChainVerified {
		s.metrics.IncrementAttempt("already_verified")
		s.logger.InfoContext(ctx, "project already verified on ledger", "project_id", tx.ProjectID, "attempt", n)
		return nil
	}

	if *call == nil {
		signed, err := s.prepare(ctx, nonces, tx.ProjectID)
		if err != nil {
			return classify(err)
		}
		*call = signed
		*sent = false
		tx.TxHash = signed.Hash
		tx.Nonce = signed.Nonce
		tx.RawTx = signed.Raw
		tx.UpdatedAt = s.now()
		if err := s.store.Save(ctx, tx); err != nil {
			return fmt.Errorf("persist signed transaction: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	err = s.chain.Broadcast(callCtx, *call)
	cancel()
	if err != nil {
		if !errors.Is(err, ErrNonceConflict) {
			return classify(err)
		}
		// The nonce is spent; if this transaction spent it, the receipt shows it.
		if receipt, rerr := s.receipt(ctx, (*call).Hash); rerr == nil {
			*sent = true
			return s.settle(ctx, tx, receipt)
		}
		if rerr := nonces.Resync(ctx); rerr != nil {
			s.logger.WarnContext(ctx, "nonce resync failed", "project_id", tx.ProjectID, "error", rerr)
		}
		*call = nil
		return err
	}
	*sent = true
	s.logger.InfoContext(ctx, "ledger transaction broadcast",
		"project_id", tx.ProjectID,
		"tx_hash", (*call).Hash,
		"nonce", (*call).Nonce,
		"attempt", n,
	)

	receipt, err := s.awaitReceipt(ctx, (*call).Hash)
	if err != nil {
		return classify(err)
	}
	return s.settle(ctx, tx, receipt)
}

func (s *Submitter) settle(ctx context.Context, tx *Transaction, receipt *Receipt) error {
	if receipt.Success {
		s.metrics.IncrementAttempt("confirmed")
		s.logger.InfoContext(ctx, "ledger transaction confirmed",
			"project_id", tx.ProjectID,
			"tx_hash", receipt.TxHash,
			"block", receipt.BlockNumber,
		)
		return nil
	}
	s.metrics.IncrementAttempt("reverted")
	return backoff.Permanent(fmt.Errorf("%w: tx %s", ErrReverted, receipt.TxHash))
}

func (s *Submitter) prepare(ctx context.Context, nonces *NonceManager, projectID int64) (*SignedCall, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	nonce, err := nonces.Reserve(callCtx)
	if err != nil {
		return nil, Transient("nonce", err)
	}
	call, err := s.chain.PrepareVerify(callCtx, projectID, nonce)
	if err != nil {
		nonces.Rollback(nonce)
		return nil, err
	}
	return call, nil
}

func (s *Submitter) awaitReceipt(ctx context.Context, hash string) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmationTimeout)
	defer cancel()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.receipt(ctx, hash)
		switch {
		case err == nil:
			return receipt, nil
		case errors.Is(err, ErrReceiptPending):
		case !IsRetryable(err):
			return nil, err
		default:
			s.logger.DebugContext(ctx, "receipt poll failed", "tx_hash", hash, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil, Transient("confirm", fmt.Errorf("%w: tx %s", ErrConfirmationTimeout, hash))
		case <-ticker.C:
		}
	}
}

func (s *Submitter) receipt(ctx context.Context, hash string) (*Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return s.chain.Receipt(callCtx, hash)
}

func (s *Submitter) projectStatus(ctx context.Context, projectID int64) (ChainStatus, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return s.chain.ProjectStatus(callCtx, projectID)
}

func (s *Submitter) acquire(ctx context.Context) (func(), error) {
	if s.lock == nil {
		return func() {}, nil
	}
	key := "ledger:signer:" + strings.ToLower(s.chain.Sender())
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()

	var release func(context.Context) error
	err := backoff.Retry(func() error {
		r, err := s.lock.Acquire(waitCtx, key, s.cfg.LockTTL)
		if err != nil {
			return err
		}
		release = r
		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(s.cfg.PollInterval), waitCtx))
	if err != nil {
		return nil, Transient("lock", fmt.Errorf("%w: %w", ErrLockUnavailable, err))
	}
	return func() {
		if err := release(ctx); err != nil {
			s.logger.WarnContext(ctx, "failed to release signer lock", "key", key, "error", err)
		}
	}, nil
}

func (s *Submitter) finish(ctx context.Context, tx *Transaction, err error, start time.Time) (*Transaction, error) {
	switch {
	case err == nil:
		tx.Status = StatusConfirmed
		tx.LastError = ""
	case errors.Is(err, ErrReverted):
		tx.Status = StatusReverted
		tx.LastError = err.Error()
	default:
		tx.Status = StatusFailed
		tx.LastError = err.Error()
	}
	tx.UpdatedAt = s.now()

	if saveErr := s.store.Save(ctx, tx); saveErr != nil {
		// the ledger is authoritative; GetStatus reconciles later
		s.logger.ErrorContext(ctx, "failed to persist ledger transaction",
			"project_id", tx.ProjectID,
			"status", tx.Status,
			"error", saveErr,
		)
	}
	s.metrics.ObserveResult(string(tx.Status), s.now().Sub(start))

	switch tx.Status {
	case StatusConfirmed:
		return tx.Clone(), nil
	case StatusReverted:
		s.logger.ErrorContext(ctx, "ledger transaction reverted", "project_id", tx.ProjectID, "tx_hash", tx.TxHash)
		return tx.Clone(), err
	default:
		s.logger.ErrorContext(ctx, "ledger authorization failed",
			"project_id", tx.ProjectID,
			"retries", tx.Retries,
			"error", err,
		)
		return tx.Clone(), fmt.Errorf("authorize project %d: %w", tx.ProjectID, err)
	}
}

func (s *Submitter) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return b
}

func (s *Submitter) lookup(ctx context.Context, projectID int64) (*Transaction, error) {
	tx, err := s.store.Get(ctx, projectID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction for project %d: %w", projectID, err)
	}
	return tx, nil
}

// classify marks non-retryable errors permanent for the retry loop.
func classify(err error) error {
	if err == nil || IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}
