package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Nutcoco971/ProjectavisFew/pkg/database"
	apperrors "github.com/Nutcoco971/ProjectavisFew/pkg/errors"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// ContentRepository reads the content catalog from PostgreSQL.
type ContentRepository struct {
	pool database.DBTX
}

// NewContentRepository creates a PostgreSQL-backed content catalog.
func NewContentRepository(pool database.DBTX) *ContentRepository {
	return &ContentRepository{pool: pool}
}

// Exists reports whether contentID names a published content item.
func (r *ContentRepository) Exists(ctx context.Context, contentID string) (_ bool, err error) {
	query := `SELECT EXISTS (SELECT 1 FROM contents WHERE id = $1 AND is_published)`

	ctx, end := database.TraceQuery(ctx, "ContentExists", query)
	defer func() { end(err) }()

	var exists bool
	if err = r.pool.QueryRow(ctx, query, contentID).Scan(&exists); err != nil {
		return false, classify("check content", err)
	}
	return exists, nil
}

// GetByID returns a content item, published or not.
func (r *ContentRepository) GetByID(ctx context.Context, id string) (_ *domain.Content, err error) {
	query := `SELECT id, type, title, is_published FROM contents WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetContent", query)
	defer func() { end(err) }()

	var (
		c        domain.Content
		kindText string
	)
	err = r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &kindText, &c.Title, &c.IsPublished)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("content", id)
		}
		return nil, classify("get content", err)
	}
	c.Type = domain.ContentType(kindText)
	return &c, nil
}
