package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "review:event:"

// IdempotencyStore records processed change-feed event ids in Redis. Entries
// are scoped by namespace, normally the consumer group, so a restarted
// consumer skips what it already applied while other groups are unaffected.
// It satisfies kafka.IdempotencyStore.
type IdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewIdempotencyStore creates a store whose entries expire after ttl.
func NewIdempotencyStore(client *redis.Client, namespace string, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		client: client,
		prefix: idempotencyPrefix + namespace + ":",
		ttl:    ttl,
	}
}

// Contains reports whether eventID was already recorded.
func (s *IdempotencyStore) Contains(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// Add records eventID for the configured ttl.
func (s *IdempotencyStore) Add(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, s.prefix+eventID, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set event %s: %w", eventID, err)
	}
	return nil
}
