package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Nutcoco971/ProjectavisFew/pkg/database"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

const reviewColumns = `id, content_id, user_id, anonymous_id, rating, emoji, keyword, body,
	context, audio_url, has_spoilers, is_ephemeral, expires_at, created_at`

// ReviewRepository persists reviews in PostgreSQL.
type ReviewRepository struct {
	pool database.DBTX
}

// NewReviewRepository creates a PostgreSQL-backed review repository.
func NewReviewRepository(pool database.DBTX) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

// Create inserts nr. The database assigns id and created_at; expires_at is
// derived from created_at for ephemeral reviews.
func (r *ReviewRepository) Create(ctx context.Context, nr *domain.NewReview) (_ *domain.Review, err error) {
	query := `
		INSERT INTO reviews (content_id, user_id, anonymous_id, rating, emoji, keyword, body,
		                     context, audio_url, has_spoilers, is_ephemeral, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        CASE WHEN $11 THEN now() + interval '24 hours' END)
		RETURNING id, created_at, expires_at`

	ctx, end := database.TraceQuery(ctx, "InsertReview", query)
	defer func() { end(err) }()

	userID, anonymousID := authorColumns(nr.Author)
	rating, emoji, keyword := nr.Rating, nr.Emoji, nr.Keyword
	review := &domain.Review{
		ContentID:   nr.ContentID,
		Author:      nr.Author,
		Rating:      &rating,
		Emoji:       &emoji,
		Keyword:     &keyword,
		Body:        nr.Body,
		Context:     nr.Context,
		AudioURL:    nr.AudioURL,
		HasSpoilers: nr.HasSpoilers,
		IsEphemeral: nr.IsEphemeral,
	}

	err = r.pool.QueryRow(ctx, query,
		nr.ContentID,
		userID,
		anonymousID,
		nr.Rating,
		nr.Emoji,
		nr.Keyword,
		nr.Body,
		nr.Context,
		nr.AudioURL,
		nr.HasSpoilers,
		nr.IsEphemeral,
	).Scan(&review.ID, &review.CreatedAt, &review.ExpiresAt)
	if err != nil {
		return nil, classify("insert review", err)
	}

	review.Normalize()
	return review, nil
}

// ListByContent returns the reviews of contentID ordered by created_at desc,
// ties broken by id desc.
func (r *ReviewRepository) ListByContent(ctx context.Context, contentID string) (_ []domain.Review, err error) {
	query := `SELECT ` + reviewColumns + `
		FROM reviews
		WHERE content_id = $1
		ORDER BY created_at DESC, id DESC`

	ctx, end := database.TraceQuery(ctx, "ListReviewsByContent", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, contentID)
	if err != nil {
		return nil, classify("list reviews", err)
	}
	defer rows.Close()

	reviews := []domain.Review{}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate review rows", err)
	}

	return reviews, nil
}

// DeleteExpired removes ephemeral reviews whose expiry is at or before before.
func (r *ReviewRepository) DeleteExpired(ctx context.Context, before time.Time) (_ int64, err error) {
	query := `DELETE FROM reviews WHERE is_ephemeral AND expires_at <= $1`

	ctx, end := database.TraceQuery(ctx, "DeleteExpiredReviews", query)
	defer func() { end(err) }()

	tag, err := r.pool.Exec(ctx, query, before.UTC())
	if err != nil {
		return 0, classify("delete expired reviews", err)
	}
	return tag.RowsAffected(), nil
}

func scanReview(row pgx.Row) (domain.Review, error) {
	var (
		rv          domain.Review
		userID      *string
		anonymousID *string
		rating      *int16
	)
	if err := row.Scan(
		&rv.ID,
		&rv.ContentID,
		&userID,
		&anonymousID,
		&rating,
		&rv.Emoji,
		&rv.Keyword,
		&rv.Body,
		&rv.Context,
		&rv.AudioURL,
		&rv.HasSpoilers,
		&rv.IsEphemeral,
		&rv.ExpiresAt,
		&rv.CreatedAt,
	); err != nil {
		return domain.Review{}, classify("scan review row", err)
	}

	switch {
	case userID != nil && anonymousID == nil:
		rv.Author = domain.Registered(*userID)
	case anonymousID != nil && userID == nil:
		rv.Author = domain.Anonymous(*anonymousID)
	default:
		return domain.Review{}, fmt.Errorf("review %s: exactly one of user_id and anonymous_id must be set", rv.ID)
	}
	if rating != nil {
		n := int(*rating)
		rv.Rating = &n
	}

	rv.Normalize()
	return rv, nil
}

func authorColumns(a domain.AuthorRef) (userID, anonymousID *string) {
	if id, ok := a.UserID(); ok {
		return &id, nil
	}
	if id, ok := a.SessionID(); ok {
		return nil, &id
	}
	return nil, nil
}
