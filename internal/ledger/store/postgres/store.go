package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"carbonproof/internal/ledger"
	"carbonproof/pkg/platform/sentinel"
	txcontext "carbonproof/pkg/platform/tx"
)

// Store persists ledger transactions in PostgreSQL, one row per project.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Get(ctx context.Context, projectID int64) (*ledger.Transaction, error) {
	query := `
		SELECT project_id, tx_hash, nonce, status, retries, last_error, raw_tx, created_at, updated_at
		FROM ledger_transactions
		WHERE project_id = $1
	`
	var (
		tx     ledger.Transaction
		status string
		nonce  int64
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, projectID).Scan(
		&tx.ProjectID, &tx.TxHash, &nonce, &status, &tx.Retries, &tx.LastError, &tx.RawTx, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get ledger transaction: %w", err)
	}
	tx.Nonce = uint64(nonce)
	tx.Status = ledger.Status(status)
	return &tx, nil
}

// Save upserts tx. The conditional update keeps a CONFIRMED row from being
// overwritten by a non-CONFIRMED status.
func (s *Store) Save(ctx context.Context, tx *ledger.Transaction) error {
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}
	query := `
		INSERT INTO ledger_transactions (project_id, tx_hash, nonce, status, retries, last_error, raw_tx, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id) DO UPDATE SET
			tx_hash = EXCLUDED.tx_hash,
			nonce = EXCLUDED.nonce,
			status = EXCLUDED.status,
			retries = EXCLUDED.retries,
			last_error = EXCLUDED.last_error,
			raw_tx = EXCLUDED.raw_tx,
			updated_at = EXCLUDED.updated_at
		WHERE ledger_transactions.status <> 'CONFIRMED' OR EXCLUDED.status = 'CONFIRMED'
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		tx.ProjectID,
		tx.TxHash,
		int64(tx.Nonce),
		string(tx.Status),
		tx.Retries,
		tx.LastError,
		tx.RawTx,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save ledger transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save ledger transaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("project %d already confirmed: %w", tx.ProjectID, sentinel.ErrConflict)
	}
	return nil
}
