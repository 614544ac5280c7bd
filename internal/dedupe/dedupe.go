// Package dedupe provides admission control for inbound webhook events.
// The chat platform delivers at-least-once; a key is admitted at most once
// within the TTL window so redelivered events become no-ops.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long an admitted key blocks replays.
const DefaultTTL = 30 * time.Minute

const keyPrefix = "event:"

// Store is an atomic set-if-absent admission authority.
type Store interface {
	// Admit returns true exactly once per key within the TTL window.
	Admit(ctx context.Context, key string) (bool, error)
}

// RedisStore is the authoritative shared store, backed by SET NX with TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates the shared dedup store. ttl <= 0 uses DefaultTTL.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Admit(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyPrefix+key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: setnx %q: %w", key, err)
	}
	return ok, nil
}

// EventKey derives the dedup identity for an inbound event: the explicit
// event ID when present, otherwise a timestamp+channel composite.
func EventKey(eventID, eventTs, channelID string) string {
	if eventID != "" {
		return eventID
	}
	return eventTs + ":" + channelID
}
