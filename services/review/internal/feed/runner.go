package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	pkgkafka "github.com/Nutcoco971/ProjectavisFew/pkg/kafka"
)

// ErrStreamDropped reports a lost change-feed connection. It never surfaces
// as a submission error; the Runner resubscribes.
var ErrStreamDropped = pkgkafka.ErrStreamDropped

// Source is a change-feed subscription. Start blocks until ctx ends (nil) or
// the stream fails.
type Source interface {
	Start(ctx context.Context) error
	Close() error
}

// SourceFactory opens a fresh subscription.
type SourceFactory func() Source

// RunnerConfig bounds the resubscription backoff.
type RunnerConfig struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Resync, when set, runs before every resubscription so reviews written
	// while the stream was down reach the local view.
	Resync func(ctx context.Context) error
}

// Runner keeps a change-feed subscription alive, reopening it after drops.
type Runner struct {
	open   SourceFactory
	cfg    RunnerConfig
	logger *slog.Logger
}

// NewRunner creates a runner over open.
func NewRunner(open SourceFactory, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Runner{open: open, cfg: cfg, logger: logger}
}

// Run consumes until ctx is cancelled. Stream drops and other source failures
// are logged and followed by a new subscription after a growing delay.
func (r *Runner) Run(ctx context.Context) error {
	backoff := r.cfg.MinBackoff
	for attempt := 0; ; attempt++ {
		if attempt > 0 && r.cfg.Resync != nil {
			if err := r.cfg.Resync(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "resync before resubscribe failed", slog.String("error", err.Error()))
			}
		}
		src := r.open()
		started := time.Now()
		err := src.Start(ctx)
		_ = src.Close()

		if ctx.Err() != nil {
			return nil
		}
		// A subscription that ran for a while earns a fresh backoff.
		if err == nil || time.Since(started) > r.cfg.MaxBackoff {
			backoff = r.cfg.MinBackoff
		}

		switch {
		case err == nil:
			r.logger.InfoContext(ctx, "change feed ended, reopening")
		case errors.Is(err, ErrStreamDropped):
			streamDropsTotal.Inc()
			r.logger.WarnContext(ctx, "change feed dropped, resubscribing",
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)
		default:
			r.logger.ErrorContext(ctx, "change feed failed, resubscribing",
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = min(backoff*2, r.cfg.MaxBackoff)
	}
}
