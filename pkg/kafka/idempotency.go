package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// IdempotencyStore records processed event ids. Implementations must be safe
// for concurrent use.
type IdempotencyStore interface {
	// Contains reports whether eventID was already processed.
	Contains(ctx context.Context, eventID string) (bool, error)
	// Add marks eventID as processed.
	Add(ctx context.Context, eventID string) error
}

// MemoryIdempotencyStore keeps event ids in process memory for ttl.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates a store whose entries expire after ttl.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Contains reports whether eventID is present and unexpired.
func (s *MemoryIdempotencyStore) Contains(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.entries[eventID]
	if !ok {
		return false, nil
	}
	if s.now().Sub(ts) > s.ttl {
		delete(s.entries, eventID)
		return false, nil
	}
	return true, nil
}

// Add records eventID and sweeps expired entries.
func (s *MemoryIdempotencyStore) Add(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, ts := range s.entries {
		if now.Sub(ts) > s.ttl {
			delete(s.entries, id)
		}
	}
	s.entries[eventID] = now
	return nil
}

// Len returns the number of tracked entries, expired ones included.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// IdempotentHandler skips events whose id the store has already seen. A store
// failure lets the event through: downstream handlers must tolerate duplicates.
func IdempotentHandler(name string, store IdempotencyStore, inner Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		if event.EventID == "" {
			return inner(ctx, event)
		}

		seen, err := store.Contains(ctx, event.EventID)
		if err != nil {
			logger.WarnContext(ctx, "idempotency lookup failed, processing anyway",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
			return inner(ctx, event)
		}
		if seen {
			ConsumerMessagesDuplicate.WithLabelValues(name).Inc()
			logger.DebugContext(ctx, "skipping duplicate event",
				slog.String("event_id", event.EventID),
				slog.String("aggregate_id", event.AggregateID),
			)
			return nil
		}

		if err := inner(ctx, event); err != nil {
			return err
		}

		if err := store.Add(ctx, event.EventID); err != nil {
			logger.WarnContext(ctx, "failed to record event id",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
}
