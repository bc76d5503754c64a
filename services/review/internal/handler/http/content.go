package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Nutcoco971/ProjectavisFew/pkg/httputil"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
)

// ContentReader loads catalog entries.
type ContentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Content, error)
}

// ContentHandler serves the content catalog this service owns.
type ContentHandler struct {
	contents ContentReader
	logger   *slog.Logger
}

// NewContentHandler creates a new content HTTP handler.
func NewContentHandler(contents ContentReader, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{contents: contents, logger: logger}
}

// GetContent handles GET /api/v1/contents/{contentId}
func (h *ContentHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentId")
	if _, ok := httputil.ParseUUID(w, contentID); !ok {
		return
	}

	content, err := h.contents.GetByID(r.Context(), contentID)
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: content})
}
