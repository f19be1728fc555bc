package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	audit "carbonproof/pkg/platform/audit"
	txcontext "carbonproof/pkg/platform/tx"
)

// Store implements audit.Store on the audit_events table. Appends are
// idempotent on event ID.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}

	query := `
		INSERT INTO audit_events (
			id, category, timestamp, project_id, action,
			decision, reason, content_hash, content_address, tx_hash,
			signer, request_id, actor_id, client_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		string(category),
		event.Timestamp,
		event.ProjectID,
		event.Action,
		event.Decision,
		event.Reason,
		event.ContentHash,
		event.ContentAddress,
		event.TxHash,
		event.Signer,
		event.RequestID,
		event.ActorID,
		event.ClientAgent,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByProject returns a project's events, newest first.
func (s *Store) ListByProject(ctx context.Context, projectID int64) ([]audit.Event, error) {
	query := selectEvents + `
		WHERE project_id = $1
		ORDER BY timestamp DESC
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := selectEvents + `
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

const selectEvents = `
	SELECT id, category, timestamp, project_id, action,
		   decision, reason, content_hash, content_address, tx_hash,
		   signer, request_id, actor_id, client_agent
	FROM audit_events`

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			id       uuid.UUID
			category string
		)
		err := rows.Scan(
			&id,
			&category,
			&event.Timestamp,
			&event.ProjectID,
			&event.Action,
			&event.Decision,
			&event.Reason,
			&event.ContentHash,
			&event.ContentAddress,
			&event.TxHash,
			&event.Signer,
			&event.RequestID,
			&event.ActorID,
			&event.ClientAgent,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = id.String()
		event.Category = audit.EventCategory(category)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
