package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrReverted means the transaction was mined and failed. Not retried.
	ErrReverted = errors.New("ledger transaction reverted")
	// ErrConfirmationTimeout means no receipt arrived within the confirmation window.
	ErrConfirmationTimeout = errors.New("ledger confirmation timeout")
	// ErrNonceConflict means the reserved nonce was already consumed.
	ErrNonceConflict = errors.New("ledger nonce conflict")
	// ErrReceiptPending means the transaction is not mined yet.
	ErrReceiptPending = errors.New("ledger receipt pending")
	// ErrLockUnavailable means another replica holds the signer lock.
	ErrLockUnavailable = errors.New("ledger signer lock unavailable")
)

// CallError describes a failed ledger interaction and whether repeating it
// may succeed.
type CallError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *CallError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "transient"
	}
	return fmt.Sprintf("ledger %s (%s): %v", e.Op, kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure of op.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CallError{Op: op, Retryable: true, Err: err}
}

// Permanent wraps err as a non-retryable failure of op.
func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CallError{Op: op, Retryable: false, Err: err}
}

// IsRetryable reports whether err is worth retrying. Errors that carry no
// classification are treated as transient network failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrReverted) || errors.Is(err, context.Canceled) {
		return false
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Retryable
	}
	return true
}
