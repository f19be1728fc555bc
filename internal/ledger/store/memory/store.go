package memory

import (
	"context"
	"fmt"
	"sync"

	"carbonproof/internal/ledger"
	"carbonproof/pkg/platform/sentinel"
)

// Store keeps ledger transactions in process memory.
type Store struct {
	mu  sync.RWMutex
	txs map[int64]*ledger.Transaction
}

func New() *Store {
	return &Store{txs: make(map[int64]*ledger.Transaction)}
}

func (s *Store) Get(_ context.Context, projectID int64) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[projectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return tx.Clone(), nil
}

// Save upserts tx. A CONFIRMED record is only replaced by another CONFIRMED one.
func (s *Store) Save(_ context.Context, tx *ledger.Transaction) error {
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.txs[tx.ProjectID]; ok &&
		current.Status == ledger.StatusConfirmed && tx.Status != ledger.StatusConfirmed {
		return fmt.Errorf("project %d already confirmed: %w", tx.ProjectID, sentinel.ErrConflict)
	}
	s.txs[tx.ProjectID] = tx.Clone()
	return nil
}
