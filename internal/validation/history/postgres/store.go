package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"carbonproof/internal/validation/anomaly"
	"carbonproof/internal/validation/history"
	txcontext "carbonproof/pkg/platform/tx"
)

// Store persists training records in validation_history, one row per project.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, rec history.Record) error {
	query := `
		INSERT INTO validation_history (
			project_id, emission_reduction, duration_days, distinct_sources,
			data_sources, content_hash, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id) DO UPDATE SET
			emission_reduction = EXCLUDED.emission_reduction,
			duration_days = EXCLUDED.duration_days,
			distinct_sources = EXCLUDED.distinct_sources,
			data_sources = EXCLUDED.data_sources,
			content_hash = EXCLUDED.content_hash,
			recorded_at = EXCLUDED.recorded_at
	`
	sources := rec.DataSources
	if sources == nil {
		sources = []string{}
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		rec.ProjectID,
		rec.Sample.EmissionReduction,
		rec.Sample.DurationDays,
		rec.Sample.DistinctSources,
		pq.Array(sources),
		rec.ContentHash,
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("append validation history: %w", err)
	}
	return nil
}

func (s *Store) RecentSamples(ctx context.Context, limit int) ([]anomaly.Sample, error) {
	query := `
		SELECT emission_reduction, duration_days, distinct_sources
		FROM validation_history
		ORDER BY recorded_at DESC, project_id DESC
		LIMIT $1
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query validation history: %w", err)
	}
	defer rows.Close()

	var samples []anomaly.Sample
	for rows.Next() {
		var sample anomaly.Sample
		if err := rows.Scan(&sample.EmissionReduction, &sample.DurationDays, &sample.DistinctSources); err != nil {
			return nil, fmt.Errorf("scan validation history: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validation history: %w", err)
	}
	return samples, nil
}

// DataSources returns the recorded source list for a project.
func (s *Store) DataSources(ctx context.Context, projectID int64) ([]string, error) {
	var sources []string
	err := s.db.QueryRowContext(ctx,
		`SELECT data_sources FROM validation_history WHERE project_id = $1`, projectID,
	).Scan(pq.Array(&sources))
	if err != nil {
		return nil, fmt.Errorf("get data sources: %w", err)
	}
	return sources, nil
}
