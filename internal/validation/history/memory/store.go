package memory

import (
	"context"
	"sort"
	"sync"

	"carbonproof/internal/validation/anomaly"
	"carbonproof/internal/validation/history"
)

// Store keeps one record per project in memory.
type Store struct {
	mu      sync.RWMutex
	records map[int64]history.Record
}

func New() *Store {
	return &Store{records: make(map[int64]history.Record)}
}

func (s *Store) Append(_ context.Context, rec history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.DataSources = append([]string(nil), rec.DataSources...)
	s.records[rec.ProjectID] = rec
	return nil
}

// RecentSamples returns up to limit samples, newest first.
func (s *Store) RecentSamples(_ context.Context, limit int) ([]anomaly.Sample, error) {
	s.mu.RLock()
	recs := make([]history.Record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].RecordedAt.Equal(recs[j].RecordedAt) {
			return recs[i].ProjectID > recs[j].ProjectID
		}
		return recs[i].RecordedAt.After(recs[j].RecordedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	samples := make([]anomaly.Sample, len(recs))
	for i, r := range recs {
		samples[i] = r.Sample
	}
	return samples, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
