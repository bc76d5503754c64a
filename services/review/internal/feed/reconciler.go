package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// Origin says which path delivered a review to the reconciler.
type Origin string

const (
	OriginLocal Origin = "local"
	OriginFeed  Origin = "feed"
	OriginStore Origin = "store"
)

// Lister reads the stored reviews of a content item, most recent first.
type Lister interface {
	ListByContent(ctx context.Context, contentID string) ([]domain.Review, error)
}

// Reconciler keeps one deduplicated ReviewSet per tracked content item and
// merges local writes, change-feed deliveries and store reads into it by id.
// Merges into the same content item are serialized; different content items
// never contend.
type Reconciler struct {
	store  Lister
	hub    *Hub
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	contents map[string]*contentState
}

type contentState struct {
	mu       sync.Mutex
	set      *ReviewSet
	seeded   bool
	evicted  bool
	lastUsed time.Time
}

// NewReconciler creates a reconciler seeding content state from store.
func NewReconciler(store Lister, hub *Hub, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
		contents: make(map[string]*contentState),
	}
}

// acquire returns the locked state of contentID, creating it when absent.
func (r *Reconciler) acquire(contentID string) *contentState {
	for {
		r.mu.Lock()
		st, ok := r.contents[contentID]
		if !ok {
			st = &contentState{set: NewReviewSet(), lastUsed: r.now()}
			r.contents[contentID] = st
			trackedContents.Inc()
		}
		r.mu.Unlock()

		st.mu.Lock()
		if !st.evicted {
			return st
		}
		st.mu.Unlock()
	}
}

// lookup returns the locked state of contentID, or nil when it is not held.
func (r *Reconciler) lookup(contentID string) *contentState {
	for {
		r.mu.Lock()
		st, ok := r.contents[contentID]
		r.mu.Unlock()
		if !ok {
			return nil
		}

		st.mu.Lock()
		if !st.evicted {
			return st
		}
		st.mu.Unlock()
	}
}

// Track loads the stored reviews of contentID the first time it is called for
// that content item. A failed load is retried on the next call.
func (r *Reconciler) Track(ctx context.Context, contentID string) error {
	st := r.acquire(contentID)
	defer st.mu.Unlock()
	st.lastUsed = r.now()

	if st.seeded {
		return nil
	}
	stored, err := r.store.ListByContent(ctx, contentID)
	if err != nil {
		return fmt.Errorf("seed reviews of %s: %w", contentID, err)
	}
	added := 0
	for _, rv := range stored {
		rv.Normalize()
		if st.set.Merge(rv) {
			added++
		}
	}
	st.seeded = true
	mergesTotal.WithLabelValues(string(OriginStore), "added").Add(float64(added))

	r.logger.DebugContext(ctx, "content tracked",
		slog.String("content_id", contentID),
		slog.Int("stored", len(stored)),
		slog.Int("added", added),
	)
	return nil
}

// Merge adds rv to its content item's set and notifies subscribers when the
// set changed. A review already present by id is ignored, and so is a feed
// delivery for a content item that is not tracked: Track reads it from the
// store later.
func (r *Reconciler) Merge(rv domain.Review, origin Origin) bool {
	rv.Normalize()

	var st *contentState
	if origin == OriginFeed {
		st = r.lookup(rv.ContentID)
		if st == nil {
			mergesTotal.WithLabelValues(string(origin), "untracked").Inc()
			return false
		}
		if !st.seeded {
			st.mu.Unlock()
			mergesTotal.WithLabelValues(string(origin), "untracked").Inc()
			return false
		}
	} else {
		st = r.acquire(rv.ContentID)
		st.lastUsed = r.now()
	}
	defer st.mu.Unlock()

	return r.mergeLocked(st, rv, origin)
}

func (r *Reconciler) mergeLocked(st *contentState, rv domain.Review, origin Origin) bool {
	if !st.set.Merge(rv) {
		mergesTotal.WithLabelValues(string(origin), "duplicate").Inc()
		return false
	}
	mergesTotal.WithLabelValues(string(origin), "added").Inc()
	// Delivery happens under the content lock so subscribers observe merges
	// in the order they were applied.
	r.hub.Publish(rv)
	return true
}

// Snapshot returns the current ordered reviews of contentID, expired ones
// included.
func (r *Reconciler) Snapshot(contentID string) []domain.Review {
	st := r.acquire(contentID)
	defer st.mu.Unlock()
	st.lastUsed = r.now()
	return st.set.Reviews()
}

// Subscribe registers fn for future merges into contentID and returns the
// reviews present at that instant. No merge is lost or repeated between the
// snapshot and the first delivery. fn runs with the content item locked and
// must not call back into the reconciler for the same content item.
func (r *Reconciler) Subscribe(contentID string, fn func(domain.Review)) ([]domain.Review, *Subscription) {
	st := r.acquire(contentID)
	defer st.mu.Unlock()
	st.lastUsed = r.now()
	return st.set.Reviews(), r.hub.Subscribe(contentID, fn)
}

// Tracked returns the number of content items held in memory.
func (r *Reconciler) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *Reconciler) contentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.contents))
	for id := range r.contents {
		out = append(out, id)
	}
	return out
}

// PruneExpired drops every ephemeral review that expired at or before before
// from the held sets. It returns the number of reviews dropped.
func (r *Reconciler) PruneExpired(before time.Time) int {
	pruned := 0
	for _, id := range r.contentIDs() {
		st := r.lookup(id)
		if st == nil {
			continue
		}
		removed := st.set.RemoveIf(func(rv domain.Review) bool {
			return rv.ExpiresAt != nil && !rv.ExpiresAt.After(before)
		})
		st.mu.Unlock()
		pruned += len(removed)
	}
	return pruned
}

// Resync re-reads every tracked content item from the store. Reviews the set
// is missing are merged and delivered to subscribers; expired reviews the
// store no longer holds are dropped. It recovers reviews whose change-feed
// event never arrived.
func (r *Reconciler) Resync(ctx context.Context) error {
	var errs []error
	for _, id := range r.contentIDs() {
		if err := r.resyncContent(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) resyncContent(ctx context.Context, contentID string) error {
	st := r.lookup(contentID)
	if st == nil {
		return nil
	}
	seeded := st.seeded
	st.mu.Unlock()
	if !seeded {
		return nil
	}

	stored, err := r.store.ListByContent(ctx, contentID)
	if err != nil {
		return fmt.Errorf("resync reviews of %s: %w", contentID, err)
	}

	// The state may have been evicted and recreated while the store was read.
	current := r.lookup(contentID)
	if current == nil {
		return nil
	}
	defer current.mu.Unlock()
	if current != st {
		return nil
	}

	inStore := make(map[string]struct{}, len(stored))
	added := 0
	for _, rv := range stored {
		inStore[rv.ID] = struct{}{}
		rv.Normalize()
		if r.mergeLocked(st, rv, OriginStore) {
			added++
		}
	}
	now := r.now()
	purged := st.set.RemoveIf(func(rv domain.Review) bool {
		_, ok := inStore[rv.ID]
		return !ok && !domain.IsVisible(rv, now)
	})

	if added > 0 || len(purged) > 0 {
		r.logger.InfoContext(ctx, "content resynced",
			slog.String("content_id", contentID),
			slog.Int("added", added),
			slog.Int("purged", len(purged)),
		)
	}
	return nil
}

// EvictIdle releases content items nobody is subscribed to and nobody has
// read for idle. An evicted item is seeded again by its next Track.
func (r *Reconciler) EvictIdle(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	evicted := 0
	for _, id := range r.contentIDs() {
		st := r.lookup(id)
		if st == nil {
			continue
		}
		if st.lastUsed.Before(cutoff) && r.hub.Subscribers(id) == 0 {
			st.evicted = true
			r.mu.Lock()
			if r.contents[id] == st {
				delete(r.contents, id)
				trackedContents.Dec()
			}
			r.mu.Unlock()
			evicted++
		}
		st.mu.Unlock()
	}
	return evicted
}

// MaintenanceConfig paces RunMaintenance.
type MaintenanceConfig struct {
	ResyncInterval time.Duration
	IdleTTL        time.Duration
}

// RunMaintenance resyncs tracked content and evicts idle content every
// ResyncInterval until ctx is cancelled.
func (r *Reconciler) RunMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	ticker := time.NewTicker(cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Resync(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "content resync failed", slog.String("error", err.Error()))
			}
			if n := r.EvictIdle(cfg.IdleTTL); n > 0 {
				r.logger.DebugContext(ctx, "idle content evicted", slog.Int("evicted", n))
			}
		}
	}
}
