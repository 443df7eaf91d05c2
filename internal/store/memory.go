package store

import (
	"errors"
	"sync"

	"github.com/i474232898/commute-telemetry/internal/commute"
)

var (
	// ErrNotFound is returned when no snapshot is available for a given route.
	ErrNotFound = errors.New("no commute estimate for route")
)

// MemoryStore is a concurrency-safe in-memory holder of the latest snapshot per route.
// Snapshots are replaced wholesale; no history is kept.
type MemoryStore struct {
	mu sync.RWMutex

	// key: route key, value: latest snapshot
	data map[string]commute.CommuteEstimate
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]commute.CommuteEstimate),
	}
}

// SaveSnapshot replaces the snapshot held for a route.
func (s *MemoryStore) SaveSnapshot(route commute.Route, snapshot commute.CommuteEstimate) {
	key := route.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = snapshot
}

// GetLatest returns the most recent snapshot for a route.
func (s *MemoryStore) GetLatest(route commute.Route) (commute.CommuteEstimate, error) {
	key := route.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[key]
	if !ok {
		return commute.CommuteEstimate{}, ErrNotFound
	}
	return snap, nil
}

// Forget discards the snapshot for a route.
func (s *MemoryStore) Forget(route commute.Route) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, route.Key())
}

// Len returns the number of routes with a snapshot.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
