//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"qgate/internal/ledger"
	"qgate/internal/provenance/store"
	"qgate/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.Redis
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = store.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestMarkTaintedIsIdempotent() {
	ctx := context.Background()

	inserted, err := s.store.MarkTainted(ctx, "asset-1")
	s.Require().NoError(err)
	s.True(inserted)

	inserted, err = s.store.MarkTainted(ctx, "asset-1")
	s.Require().NoError(err)
	s.False(inserted)

	tainted, err := s.store.IsTainted(ctx, "asset-1")
	s.Require().NoError(err)
	s.True(tainted)

	n, err := s.store.Len(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *RedisStoreSuite) TestUnknownIsNotTainted() {
	tainted, err := s.store.IsTainted(context.Background(), "never-seen")
	s.Require().NoError(err)
	s.False(tainted)
}

// TestSharedAcrossInstances verifies two caches on one server agree and
// only one of them wins a concurrent insert.
func (s *RedisStoreSuite) TestSharedAcrossInstances() {
	ctx := context.Background()
	other := store.NewRedis(s.redis.Client)

	var wg sync.WaitGroup
	var inserted atomic.Int32
	for i := range 20 {
		cache := s.store
		if i%2 == 0 {
			cache = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := cache.MarkTainted(ctx, ledger.AssetID("shared"))
			s.NoError(err)
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), inserted.Load())
}

func (s *RedisStoreSuite) TestCustomKeyIsolates() {
	ctx := context.Background()
	testnet := store.NewRedis(s.redis.Client, store.WithKey("qgate:testnet:rejected"))

	_, err := s.store.MarkTainted(ctx, "asset-1")
	s.Require().NoError(err)

	tainted, err := testnet.IsTainted(ctx, "asset-1")
	s.Require().NoError(err)
	s.False(tainted)
}
