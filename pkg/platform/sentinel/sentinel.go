package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, blob backends and ledger
// adapters return these (optionally wrapped) so services can translate them
// into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in store
// - ErrConflict: write lost a race with a concurrent writer
// - ErrInvalidState: record in wrong state for requested operation
// - ErrUnavailable: backend temporarily unavailable (circuit open, lock held)
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
