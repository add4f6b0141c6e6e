package store

import (
	"context"
	"sync"
	"time"

	"qgate/internal/ledger"
	"qgate/internal/migration"
)

// InMemory keeps migration records in process memory.
type InMemory struct {
	mu       sync.RWMutex
	migrated map[ledger.AssetID]time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{migrated: make(map[ledger.AssetID]time.Time)}
}

func (s *InMemory) State(_ context.Context, id ledger.AssetID) (migration.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.migrated[id]; ok {
		return migration.StateMigrated, nil
	}
	return migration.StateEligible, nil
}

func (s *InMemory) MarkMigrated(_ context.Context, id ledger.AssetID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.migrated[id]; ok {
		return false, nil
	}
	s.migrated[id] = at
	return true, nil
}

// MigratedAt returns when id was migrated, for status reporting.
func (s *InMemory) MigratedAt(_ context.Context, id ledger.AssetID) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.migrated[id]
	return at, ok
}
