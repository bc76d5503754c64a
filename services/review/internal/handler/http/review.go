package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Nutcoco971/ProjectavisFew/pkg/httputil"
	"github.com/Nutcoco971/ProjectavisFew/pkg/logger"
	"github.com/Nutcoco971/ProjectavisFew/pkg/middleware"
	"github.com/Nutcoco971/ProjectavisFew/pkg/pagination"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/service"
)

// Headers carrying the anonymous submission contract.
const (
	AnonymousConfirmedHeader = "X-Anonymous-Confirmed"
	AnonymousSessionHeader   = "X-Anonymous-Session"
)

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	service *service.ReviewService
	logger  *slog.Logger
	now     func() time.Time
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(svc *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		logger:  logger,
		now:     time.Now,
	}
}

// --- Request DTOs ---

// SubmitReviewRequest is the JSON request body for submitting a review.
// Absent booleans mean false.
type SubmitReviewRequest struct {
	Rating      *int    `json:"rating"`
	Emoji       string  `json:"emoji"`
	Keyword     string  `json:"keyword"`
	Body        *string `json:"body"`
	Context     *string `json:"context"`
	AudioURL    *string `json:"audio_url"`
	HasSpoilers *bool   `json:"has_spoilers"`
	IsEphemeral *bool   `json:"is_ephemeral"`
}

func (req *SubmitReviewRequest) candidate(contentID string) domain.Candidate {
	return domain.Candidate{
		ContentID:   contentID,
		Rating:      req.Rating,
		Emoji:       req.Emoji,
		Keyword:     req.Keyword,
		Body:        req.Body,
		Context:     req.Context,
		AudioURL:    req.AudioURL,
		HasSpoilers: req.HasSpoilers,
		IsEphemeral: req.IsEphemeral,
	}
}

// sessionFromRequest reads the caller's identity facts. The user id is set
// by middleware.OptionalAuth after token verification.
func sessionFromRequest(r *http.Request) service.Session {
	confirmed, _ := strconv.ParseBool(strings.TrimSpace(r.Header.Get(AnonymousConfirmedHeader)))
	return service.Session{
		UserID:             middleware.UserIDFromContext(r.Context()),
		AnonymousConfirmed: confirmed,
		AnonymousSessionID: strings.TrimSpace(r.Header.Get(AnonymousSessionHeader)),
	}
}

// --- Handlers ---

// SubmitReview handles POST /api/v1/contents/{contentId}/reviews
func (h *ReviewHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentId")

	var req SubmitReviewRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	review, err := h.service.SubmitReview(r.Context(), sessionFromRequest(r), req.candidate(contentID))
	if err != nil {
		logger.FromContext(r.Context()).InfoContext(r.Context(), "review submission rejected",
			slog.String("content_id", contentID),
			slog.String("kind", string(domain.KindOf(err))),
		)
		writeServiceError(w, r, err, h.logger)
		return
	}

	if id, ok := review.Author.SessionID(); ok {
		w.Header().Set(AnonymousSessionHeader, id)
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{
		Data: newReviewView(*review, h.now(), true),
	})
}

// ListReviews handles GET /api/v1/contents/{contentId}/reviews
// Query: reveal_spoilers, page, per_page.
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentId")
	if _, ok := httputil.ParseUUID(w, contentID); !ok {
		return
	}
	reveal, _ := strconv.ParseBool(r.URL.Query().Get("reveal_spoilers"))
	params := pagination.FromRequest(r)

	now := h.now()
	visible, err := h.service.VisibleReviews(r.Context(), contentID, now)
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}

	page := newReviewViews(pagination.Slice(visible, params), now, reveal)
	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(page, len(visible), params))
}

// GetStats handles GET /api/v1/contents/{contentId}/stats
func (h *ReviewHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentId")
	if _, ok := httputil.ParseUUID(w, contentID); !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), contentID, h.now())
	if err != nil {
		writeServiceError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: stats})
}
