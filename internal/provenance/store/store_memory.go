package store

import (
	"context"
	"sync"

	"qgate/internal/ledger"
)

// InMemory is a RejectionCache held in process memory. It is unbounded:
// entries are never evicted, which keeps verdicts monotonic.
type InMemory struct {
	mu       sync.RWMutex
	rejected map[ledger.AssetID]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{rejected: make(map[ledger.AssetID]struct{})}
}

func (s *InMemory) MarkTainted(_ context.Context, id ledger.AssetID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rejected[id]; ok {
		return false, nil
	}
	s.rejected[id] = struct{}{}
	return true, nil
}

func (s *InMemory) IsTainted(_ context.Context, id ledger.AssetID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rejected[id]
	return ok, nil
}

func (s *InMemory) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rejected), nil
}
