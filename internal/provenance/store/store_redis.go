package store

import (
	"context"

	"github.com/redis/go-redis/v9"

	"qgate/internal/ledger"
)

const (
	// Redis set holding every rejected identifier
	rejectedSetKey = "qgate:rejected"
)

// Redis is a RejectionCache backed by a Redis set, shared by every gate
// instance. Members never expire.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// RedisOption configures a Redis cache.
type RedisOption func(*Redis)

// WithKey overrides the set key, e.g. to separate networks on one server.
func WithKey(key string) RedisOption {
	return func(r *Redis) {
		if key != "" {
			r.key = key
		}
	}
}

// NewRedis constructs a Redis-backed rejection cache.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		key:    rejectedSetKey,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// MarkTainted adds id to the set. SADD reports how many members were new,
// which makes the insert check atomic across instances.
func (r *Redis) MarkTainted(ctx context.Context, id ledger.AssetID) (bool, error) {
	added, err := r.client.SAdd(ctx, r.key, id.String()).Result()
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

func (r *Redis) IsTainted(ctx context.Context, id ledger.AssetID) (bool, error) {
	return r.client.SIsMember(ctx, r.key, id.String()).Result()
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
