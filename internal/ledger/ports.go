package ledger

import (
	"context"
	"time"
)

// Chain is the registry contract as seen by the submitter. Implementations
// classify failures with Transient/Permanent.
type Chain interface {
	// Sender is the hex address whose key signs transactions.
	Sender() string
	ProjectStatus(ctx context.Context, projectID int64) (ChainStatus, error)
	PendingNonce(ctx context.Context) (uint64, error)
	// PrepareVerify builds and signs verifyProjectStatus(projectID) at nonce.
	PrepareVerify(ctx context.Context, projectID int64, nonce uint64) (*SignedCall, error)
	// Broadcast submits call. A node that already knows the transaction
	// is a success; a consumed nonce is ErrNonceConflict.
	Broadcast(ctx context.Context, call *SignedCall) error
	// Receipt returns ErrReceiptPending until the transaction is mined.
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
	ValidatorRole(ctx context.Context) ([32]byte, error)
	HasRole(ctx context.Context, role [32]byte, account string) (bool, error)
}

// Store persists one Transaction per project. Get returns sentinel.ErrNotFound
// for unknown projects. Save must never replace a CONFIRMED record with a
// non-CONFIRMED one.
type Store interface {
	Get(ctx context.Context, projectID int64) (*Transaction, error)
	Save(ctx context.Context, tx *Transaction) error
}

// Lock serializes a signer identity across replicas.
type Lock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
