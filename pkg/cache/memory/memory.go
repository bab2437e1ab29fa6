package memory

import (
	"context"
	"sync"

	"github.com/nicktill/fitpull/pkg/metrics"
)

// Store caches record batches in memory. Data is lost on restart.
// Useful for testing and for --refetch runs.
type Store struct {
	mu      sync.RWMutex
	batches map[string][]metrics.Record
}

// New creates an in-memory cache.
func New() *Store {
	return &Store{batches: make(map[string][]metrics.Record)}
}

// Get returns the cached batch for key.
func (s *Store) Get(ctx context.Context, key string) ([]metrics.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]metrics.Record, len(batch))
	copy(out, batch)
	return out, true, nil
}

// Put stores a batch under key.
func (s *Store) Put(ctx context.Context, key string, records []metrics.Record) error {
	batch := make([]metrics.Record, len(records))
	copy(batch, records)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[key] = batch
	return nil
}

// Close is a no-op for the memory cache.
func (s *Store) Close() error { return nil }
