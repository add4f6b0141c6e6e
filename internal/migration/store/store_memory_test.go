package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qgate/internal/migration"
)

var _ migration.Store = (*InMemory)(nil)
var _ migration.Store = (*PostgresStore)(nil)

func TestInMemory_MarkMigratedOnce(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	state, err := s.State(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, migration.StateEligible, state)

	ok, err := s.MarkMigrated(ctx, "asset-1", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkMigrated(ctx, "asset-1", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	state, err = s.State(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, migration.StateMigrated, state)

	got, found := s.MigratedAt(ctx, "asset-1")
	assert.True(t, found)
	assert.Equal(t, at, got, "first transition wins")
}

func TestInMemory_ConcurrentMarkMigrated(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	var wg sync.WaitGroup
	var won atomic.Int32
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkMigrated(ctx, "asset-1", time.Now())
			assert.NoError(t, err)
			if ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}
