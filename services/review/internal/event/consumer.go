package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	pkgkafka "github.com/Nutcoco971/ProjectavisFew/pkg/kafka"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/feed"
)

// ErrMalformedReview marks a review.created payload that cannot be merged.
var ErrMalformedReview = errors.New("malformed review payload")

// Merger absorbs reviews delivered by the change feed.
type Merger interface {
	Merge(rv domain.Review, origin feed.Origin) bool
}

// ConsumerHandler routes change-feed events into the reconciler.
type ConsumerHandler struct {
	merger Merger
	logger *slog.Logger
}

// NewConsumerHandler creates a new change-feed handler.
func NewConsumerHandler(merger Merger, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{
		merger: merger,
		logger: logger,
	}
}

// Handle processes an incoming Kafka event based on its event type.
func (h *ConsumerHandler) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case EventTypeReviewCreated:
		return h.handleReviewCreated(ctx, event)
	default:
		h.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

func (h *ConsumerHandler) handleReviewCreated(ctx context.Context, event *pkgkafka.Event) error {
	var data ReviewCreatedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedReview, err)
	}
	rv := data.Review
	switch {
	case rv.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformedReview)
	case rv.ContentID == "":
		return fmt.Errorf("%w: missing content_id", ErrMalformedReview)
	case rv.Author.IsZero():
		return fmt.Errorf("%w: missing author", ErrMalformedReview)
	case rv.CreatedAt.IsZero():
		return fmt.Errorf("%w: missing created_at", ErrMalformedReview)
	}

	added := h.merger.Merge(rv, feed.OriginFeed)
	h.logger.DebugContext(ctx, "review.created merged",
		slog.String("event_id", event.EventID),
		slog.String("review_id", rv.ID),
		slog.String("content_id", rv.ContentID),
		slog.Bool("added", added),
	)
	return nil
}

// SourceConfig configures the change-feed subscription.
type SourceConfig struct {
	Brokers []string
	GroupID string
	DLQ     *pkgkafka.DLQProducer
}

// NewSourceFactory returns a factory opening a fresh review.created consumer
// for every subscription attempt. handler is usually wrapped with
// pkgkafka.IdempotentHandler.
func NewSourceFactory(cfg SourceConfig, handler pkgkafka.Handler, logger *slog.Logger) feed.SourceFactory {
	return func() feed.Source {
		return pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    TopicReviewCreated,
			MinBytes: 1,
			MaxBytes: 10e6,
			DLQ:      cfg.DLQ,
		}, handler, logger)
	}
}
