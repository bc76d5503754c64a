package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/feed"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/repository"
)

// EventPublisher announces stored reviews on the change feed.
type EventPublisher interface {
	PublishReviewCreated(ctx context.Context, review *domain.Review) error
}

// ReviewService implements submission and read-side review operations over
// the store, the content catalog and the reconciler.
type ReviewService struct {
	store     repository.ReviewStore
	catalog   repository.ContentCatalog
	rec       *feed.Reconciler
	guard     SubmissionGuard
	publisher EventPublisher
	logger    *slog.Logger
}

// NewReviewService creates a new review service. A nil guard selects an
// in-process KeyedLock; a nil publisher disables change-feed publishing.
func NewReviewService(
	store repository.ReviewStore,
	catalog repository.ContentCatalog,
	rec *feed.Reconciler,
	guard SubmissionGuard,
	publisher EventPublisher,
	logger *slog.Logger,
) *ReviewService {
	if guard == nil {
		guard = NewKeyedLock()
	}
	return &ReviewService{
		store:     store,
		catalog:   catalog,
		rec:       rec,
		guard:     guard,
		publisher: publisher,
		logger:    logger,
	}
}

// SubmitReview validates c, resolves the author from sess and writes the
// review. The stored review is merged into the local view before it returns.
// Errors carry exactly one of the domain error kinds.
func (s *ReviewService) SubmitReview(ctx context.Context, sess Session, c domain.Candidate) (_ *domain.Review, err error) {
	defer func() {
		outcome := "accepted"
		if err != nil {
			outcome = string(domain.KindOf(err))
		}
		submissionsTotal.WithLabelValues(outcome).Inc()
	}()

	nr, err := domain.ValidateSubmission(c)
	if err != nil {
		return nil, err
	}
	author, err := ResolveIdentity(sess)
	if err != nil {
		return nil, err
	}
	nr.Author = author

	known, err := s.catalog.Exists(ctx, nr.ContentID)
	if err != nil {
		return nil, fmt.Errorf("look up content %s: %w", nr.ContentID, transient(err))
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownContent, nr.ContentID)
	}

	// A registered author may hold one review per content item; their
	// submissions run one at a time so the check below sees prior writes.
	if userID, ok := author.UserID(); ok {
		release, err := s.guard.Acquire(ctx, guardKey(nr.ContentID, userID))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrTransientStore, err)
		}
		defer release()
	}

	if err := s.rec.Track(ctx, nr.ContentID); err != nil {
		return nil, transient(err)
	}
	if err := CheckUniqueness(nr.ContentID, author, s.rec.Snapshot(nr.ContentID)); err != nil {
		return nil, err
	}

	stored, err := s.store.Create(ctx, nr)
	if err != nil {
		return nil, fmt.Errorf("create review: %w", transient(err))
	}
	s.rec.Merge(*stored, feed.OriginLocal)

	s.logger.InfoContext(ctx, "review created",
		slog.String("review_id", stored.ID),
		slog.String("content_id", stored.ContentID),
		slog.String("author_kind", string(author.Kind())),
		slog.Bool("ephemeral", stored.IsEphemeral),
	)

	if s.publisher != nil {
		if err := s.publisher.PublishReviewCreated(ctx, stored); err != nil {
			s.logger.WarnContext(ctx, "review stored but not announced",
				slog.String("review_id", stored.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return stored, nil
}

// VisibleReviews returns the reviews of contentID visible at now, most recent
// first.
func (s *ReviewService) VisibleReviews(ctx context.Context, contentID string, now time.Time) ([]domain.Review, error) {
	if err := s.rec.Track(ctx, contentID); err != nil {
		return nil, transient(err)
	}
	return domain.VisibleOnly(s.rec.Snapshot(contentID), now), nil
}

// Stats aggregates the reviews of contentID visible at now.
func (s *ReviewService) Stats(ctx context.Context, contentID string, now time.Time) (domain.ContentStats, error) {
	visible, err := s.VisibleReviews(ctx, contentID, now)
	if err != nil {
		return domain.ContentStats{}, err
	}
	return domain.ComputeStats(visible), nil
}

// Subscribe calls onReview for every review merged into contentID from now
// on, until the subscription is cancelled or ctx ends.
func (s *ReviewService) Subscribe(ctx context.Context, contentID string, onReview func(domain.Review)) (*feed.Subscription, error) {
	if err := s.rec.Track(ctx, contentID); err != nil {
		return nil, transient(err)
	}
	_, sub := s.rec.Subscribe(contentID, onReview)
	context.AfterFunc(ctx, sub.Unsubscribe)
	return sub, nil
}

// NewViewer creates a live view that follows one content item at a time.
func (s *ReviewService) NewViewer(onReview func(domain.Review)) *feed.Viewer {
	return feed.NewViewer(s.rec, onReview)
}

// transient classifies an error no layer below has classified.
func transient(err error) error {
	if domain.KindOf(err) == domain.KindOther {
		return fmt.Errorf("%w: %w", domain.ErrTransientStore, err)
	}
	return err
}
