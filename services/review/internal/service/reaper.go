package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/repository"
)

// ExpiryPruner drops expired reviews from an in-memory view.
type ExpiryPruner interface {
	PruneExpired(before time.Time) int
}

// Reaper periodically purges expired ephemeral reviews from the store. Reads
// filter expired reviews on their own; the reaper reclaims storage and drops
// the purged reviews from the local view so uniqueness checks agree with the
// store.
type Reaper struct {
	store    repository.ReviewStore
	view     ExpiryPruner
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewReaper creates a reaper sweeping every interval. view may be nil.
func NewReaper(store repository.ReviewStore, view ExpiryPruner, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{store: store, view: view, interval: interval, logger: logger, now: time.Now}
}

// Sweep deletes every review that expired at or before the current time.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	before := r.now().UTC()
	n, err := r.store.DeleteExpired(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge expired reviews: %w", err)
	}
	reaperDeletedTotal.Add(float64(n))
	if r.view != nil {
		r.view.PruneExpired(before)
	}
	return n, nil
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "expired review purge failed", slog.String("error", err.Error()))
			} else if n > 0 {
				r.logger.InfoContext(ctx, "expired reviews purged", slog.Int64("deleted", n))
			}
		}
	}
}
