package ledger

import (
	"context"
	"fmt"
)

// NonceManager hands out sequential nonces for one signer identity. It is
// owned by a single worker goroutine and is not safe for concurrent use.
type NonceManager struct {
	source func(context.Context) (uint64, error)
	next   uint64
	seeded bool
}

func NewNonceManager(source func(context.Context) (uint64, error)) *NonceManager {
	return &NonceManager{source: source}
}

// Reserve returns the next nonce, seeding from the chain's pending nonce on
// first use or after Invalidate.
func (n *NonceManager) Reserve(ctx context.Context) (uint64, error) {
	if !n.seeded {
		if err := n.Resync(ctx); err != nil {
			return 0, err
		}
	}
	nonce := n.next
	n.next++
	return nonce, nil
}

// Rollback returns nonce to the pool if it was the most recent reservation
// and was never broadcast.
func (n *NonceManager) Rollback(nonce uint64) {
	if n.seeded && n.next == nonce+1 {
		n.next = nonce
	}
}

// Resync reloads the next nonce from the chain.
func (n *NonceManager) Resync(ctx context.Context) error {
	pending, err := n.source(ctx)
	if err != nil {
		n.seeded = false
		return fmt.Errorf("load pending nonce: %w", err)
	}
	n.next = pending
	n.seeded = true
	return nil
}

// Invalidate forces a resync on the next Reserve.
func (n *NonceManager) Invalidate() {
	n.seeded = false
}
