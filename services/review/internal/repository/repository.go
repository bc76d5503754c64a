package repository

import (
	"context"
	"time"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// ReviewStore is the durable review store. Failures are classified into the
// domain error kinds before they are returned.
type ReviewStore interface {
	// Create writes nr and returns the stored review with its assigned id and
	// creation time.
	Create(ctx context.Context, nr *domain.NewReview) (*domain.Review, error)

	// ListByContent returns every stored review of a content item, most
	// recent first, expired ones included.
	ListByContent(ctx context.Context, contentID string) ([]domain.Review, error)

	// DeleteExpired purges ephemeral reviews that expired at or before before.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ContentCatalog answers whether a content item can be reviewed.
type ContentCatalog interface {
	Exists(ctx context.Context, contentID string) (bool, error)
}
