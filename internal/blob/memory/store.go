package memory

import (
	"context"
	"fmt"
	"sync"

	"carbonproof/internal/blob"
	"carbonproof/pkg/platform/sentinel"
)

// Store keeps blobs in process memory, addressed by sha256 digest.
type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	puts  int
}

func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

func (s *Store) Put(_ context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", blob.ErrEmptyContent
	}
	addr := "sha256:" + blob.Digest(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[addr] = append([]byte(nil), data...)
	s.puts++
	return addr, nil
}

// Get returns a copy of the blob stored under addr.
func (s *Store) Get(_ context.Context, addr string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[addr]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", addr, sentinel.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Puts returns how many Put calls succeeded.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
