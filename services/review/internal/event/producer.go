package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/Nutcoco971/ProjectavisFew/pkg/kafka"
	"github.com/Nutcoco971/ProjectavisFew/pkg/logger"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// TopicReviewCreated carries every review the store accepted. Events are keyed
// by content id so one content item's reviews stay on one partition.
var TopicReviewCreated = pkgkafka.Topic("review", "created")

// EventTypeReviewCreated is the envelope type of review.created events.
const EventTypeReviewCreated = "review.created"

// AggregateTypeContent is the aggregate reviews are grouped under.
const AggregateTypeContent = "content"

// SourceReviewService identifies events published by this service.
const SourceReviewService = "review-service"

// ReviewCreatedData is the payload of a review.created event: the complete
// stored review entity.
type ReviewCreatedData struct {
	Review domain.Review `json:"review"`
}

// Publisher is the subset of *pkgkafka.Producer the event producer uses.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes review domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the review service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishReviewCreated publishes a review.created event for a stored review.
func (p *Producer) PublishReviewCreated(ctx context.Context, review *domain.Review) error {
	event, err := pkgkafka.NewEvent(EventTypeReviewCreated, review.ContentID, AggregateTypeContent,
		SourceReviewService, ReviewCreatedData{Review: *review})
	if err != nil {
		return fmt.Errorf("create review.created event: %w", err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	event.WithMetadata("review_id", review.ID)

	if err := p.kafka.Publish(ctx, TopicReviewCreated, event); err != nil {
		return fmt.Errorf("publish review.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published review.created event",
		slog.String("review_id", review.ID),
		slog.String("content_id", review.ContentID),
	)
	return nil
}
