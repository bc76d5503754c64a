package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/Nutcoco971/ProjectavisFew/pkg/errors"
	"github.com/Nutcoco971/ProjectavisFew/pkg/httputil"
	"github.com/Nutcoco971/ProjectavisFew/pkg/logger"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/feed"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/service"
)

const (
	liveWriteWait    = 10 * time.Second
	livePongWait     = 60 * time.Second
	livePingInterval = 30 * time.Second
	liveReadLimit    = 4 << 10
	// liveBuffer bounds the reviews queued for one client. A client that
	// falls further behind is disconnected.
	liveBuffer = 64
)

// Live protocol message types.
const (
	liveCommandView   = "view"
	liveCommandUnview = "unview"

	liveMessageSnapshot = "snapshot"
	liveMessageReview   = "review"
	liveMessageError    = "error"
)

// liveCommand is a client to server frame.
type liveCommand struct {
	Type           string `json:"type"`
	ContentID      string `json:"content_id"`
	RevealSpoilers bool   `json:"reveal_spoilers"`
}

// liveMessage is a server to client frame.
type liveMessage struct {
	Type      string                  `json:"type"`
	ContentID string                  `json:"content_id,omitempty"`
	Reviews   []ReviewView            `json:"reviews,omitempty"`
	Review    *ReviewView             `json:"review,omitempty"`
	Error     *httputil.ErrorResponse `json:"error,omitempty"`
}

// LiveHandler streams the reviews of the content item a client is viewing
// over a websocket.
type LiveHandler struct {
	service  *service.ReviewService
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time
}

// NewLiveHandler creates a live handler accepting connections from
// allowedOrigins. "*" accepts any origin.
func NewLiveHandler(svc *service.ReviewService, allowedOrigins []string, logger *slog.Logger) *LiveHandler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
		}
		origins[o] = struct{}{}
	}

	return &LiveHandler{
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || wildcard {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
		logger: logger,
		now:    time.Now,
	}
}

// Serve handles GET /api/v1/contents/{contentId}/live
// The connection starts on contentId; "view" commands switch to another item.
func (h *LiveHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	l := logger.FromContext(ctx)
	if l == slog.Default() {
		l = h.logger
	}

	incoming := make(chan domain.Review, liveBuffer)
	var overflow sync.Once
	viewer := h.service.NewViewer(func(rv domain.Review) {
		select {
		case incoming <- rv:
		default:
			overflow.Do(func() {
				l.WarnContext(ctx, "live client too slow, disconnecting",
					slog.String("content_id", rv.ContentID),
				)
				cancel()
			})
		}
	})
	defer viewer.Close()

	commands := make(chan liveCommand)
	go h.readCommands(ctx, cancel, conn, commands)

	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()

	reveal, _ := strconv.ParseBool(r.URL.Query().Get("reveal_spoilers"))
	if err := writeLive(conn, h.switchView(ctx, viewer, incoming, chi.URLParam(r, "contentId"), reveal)); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(liveWriteWait))
			return

		case cmd := <-commands:
			var msg liveMessage
			switch cmd.Type {
			case liveCommandView:
				reveal = cmd.RevealSpoilers
				msg = h.switchView(ctx, viewer, incoming, cmd.ContentID, reveal)
			case liveCommandUnview:
				viewer.Close()
				drainReviews(incoming)
				continue
			default:
				msg = liveErrorMessage(cmd.ContentID, "UNKNOWN_COMMAND", "unknown command type: "+cmd.Type)
			}
			if err := writeLive(conn, msg); err != nil {
				return
			}

		case rv := <-incoming:
			now := h.now()
			if rv.ContentID != viewer.ContentID() || !domain.IsVisible(rv, now) {
				continue
			}
			view := newReviewView(rv, now, reveal)
			if err := writeLive(conn, liveMessage{Type: liveMessageReview, ContentID: rv.ContentID, Review: &view}); err != nil {
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}

// switchView moves viewer to contentID and returns the snapshot frame. Reviews
// still queued from the previous subscription are discarded: once it is closed
// nothing more is queued for it, and the new snapshot covers whatever it held.
func (h *LiveHandler) switchView(ctx context.Context, viewer *feed.Viewer, queued chan domain.Review, contentID string, reveal bool) liveMessage {
	viewer.Close()
	drainReviews(queued)

	if _, err := uuid.Parse(contentID); err != nil {
		return liveErrorMessage(contentID, "INVALID_PARAMETER", "invalid UUID: "+contentID)
	}

	snapshot, err := viewer.Switch(ctx, contentID)
	if err != nil {
		if domain.KindOf(err) == domain.KindOther {
			err = errors.Join(domain.ErrTransientStore, err)
		}
		h.logger.WarnContext(ctx, "live view switch failed",
			slog.String("content_id", contentID),
			slog.String("error", err.Error()),
		)
		return liveErrorFrom(contentID, err)
	}

	now := h.now()
	return liveMessage{
		Type:      liveMessageSnapshot,
		ContentID: contentID,
		Reviews:   newReviewViews(domain.VisibleOnly(snapshot, now), now, reveal),
	}
}

// readCommands owns every read on conn. It cancels the connection when the
// peer goes away or stops answering pings.
func (h *LiveHandler) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- liveCommand) {
	defer cancel()

	conn.SetReadLimit(liveReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.DebugContext(ctx, "live connection closed", slog.String("error", err.Error()))
			}
			return
		}

		var cmd liveCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			cmd = liveCommand{Type: "malformed"}
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

func drainReviews(queued chan domain.Review) {
	for {
		select {
		case <-queued:
		default:
			return
		}
	}
}

func writeLive(conn *websocket.Conn, msg liveMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return conn.WriteJSON(msg)
}

func liveErrorMessage(contentID, code, message string) liveMessage {
	return liveMessage{
		Type:      liveMessageError,
		ContentID: contentID,
		Error:     &httputil.ErrorResponse{Code: code, Message: message},
	}
}

func liveErrorFrom(contentID string, err error) liveMessage {
	var appErr *apperrors.AppError
	if errors.As(toAppError(err), &appErr) {
		return liveErrorMessage(contentID, appErr.Code, appErr.Message)
	}
	return liveErrorMessage(contentID, "INTERNAL_ERROR", "an internal error occurred")
}
