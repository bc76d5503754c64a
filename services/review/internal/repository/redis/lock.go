package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "review:submit:"

// ErrLockTimeout is returned when the lock could not be taken before the
// caller's context ended.
var ErrLockTimeout = errors.New("submission lock not acquired")

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SubmissionLock serializes submissions for one key across replicas with
// SET NX PX. The ttl bounds how long a crashed holder blocks others.
type SubmissionLock struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

// NewSubmissionLock creates a lock whose leases last ttl.
func NewSubmissionLock(client *redis.Client, ttl time.Duration) *SubmissionLock {
	return &SubmissionLock{client: client, ttl: ttl, poll: 25 * time.Millisecond}
}

// Acquire blocks until key is held or ctx ends. The returned release func is
// safe to call more than once.
func (l *SubmissionLock) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := lockPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("redis setnx %s: %w", redisKey, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must outlive a cancelled request context.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err()
		})
	}, nil
}
