package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/Nutcoco971/ProjectavisFew/pkg/errors"
	"github.com/Nutcoco971/ProjectavisFew/pkg/httpclient"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

const serviceName = "content-catalog"

// Doer executes outbound requests. *httpclient.CircuitBreakerClient
// implements it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client is a ContentCatalog backed by a remote catalog's
// GET /api/v1/contents/{id} endpoint.
type Client struct {
	http    Doer
	baseURL string
}

// NewClient creates a catalog client for baseURL.
func NewClient(doer Doer, baseURL string) *Client {
	return &Client{http: doer, baseURL: strings.TrimRight(baseURL, "/")}
}

type contentEnvelope struct {
	Data *domain.Content `json:"data"`
}

// Get fetches a content item. A missing item yields (nil, nil).
func (c *Client) Get(ctx context.Context, contentID string) (*domain.Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/contents/"+url.PathEscape(contentID), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrTransientStore, serviceName, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		defer func() { _ = resp.Body.Close() }()
		var env contentEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, fmt.Errorf("%w: decode %s response: %w", domain.ErrTransientStore, serviceName, err)
		}
		if env.Data == nil {
			return nil, fmt.Errorf("%w: %s response without data", domain.ErrTransientStore, serviceName)
		}
		return env.Data, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %w", domain.ErrPermissionDenied, httpclient.ParseResponseError(resp, serviceName))
	default:
		return nil, fmt.Errorf("%w: %w", domain.ErrTransientStore, httpclient.ParseResponseError(resp, serviceName))
	}
}

// Exists reports whether contentID names a published content item.
func (c *Client) Exists(ctx context.Context, contentID string) (bool, error) {
	content, err := c.Get(ctx, contentID)
	if err != nil {
		return false, err
	}
	return content != nil && content.IsPublished, nil
}

// GetByID is Get with a missing item reported as a NOT_FOUND error.
func (c *Client) GetByID(ctx context.Context, contentID string) (*domain.Content, error) {
	content, err := c.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, apperrors.NotFound("content", contentID)
	}
	return content, nil
}
