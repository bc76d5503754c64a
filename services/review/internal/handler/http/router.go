package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Nutcoco971/ProjectavisFew/pkg/health"
	"github.com/Nutcoco971/ProjectavisFew/pkg/middleware"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/service"
)

const serviceName = "review"

// NewRouter creates a chi router with all review service routes registered.
// A nil tokens validator rejects every bearer token. A zero submitLimit
// leaves submissions unthrottled.
func NewRouter(
	reviewService *service.ReviewService,
	contents ContentReader,
	healthHandler *health.Handler,
	tokens middleware.TokenValidator,
	cors middleware.CORSConfig,
	submitLimit middleware.RateLimitConfig,
	logger *slog.Logger,
) http.Handler {
	if tokens == nil {
		tokens = func(string) (*middleware.Claims, error) { return nil, nil }
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.CORS(cors))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	reviewHandler := NewReviewHandler(reviewService, logger)
	contentHandler := NewContentHandler(contents, logger)
	liveHandler := NewLiveHandler(reviewService, cors.AllowedOrigins, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(tokens))
		r.Use(middleware.RequestLogger(logger))

		r.Get("/contents/{contentId}", contentHandler.GetContent)
		r.Get("/contents/{contentId}/reviews", reviewHandler.ListReviews)
		r.With(throttle(submitLimit, logger)...).Post("/contents/{contentId}/reviews", reviewHandler.SubmitReview)
		r.Get("/contents/{contentId}/stats", reviewHandler.GetStats)

		// Live view (websocket)
		r.Get("/contents/{contentId}/live", liveHandler.Serve)
	})

	return r
}

func throttle(cfg middleware.RateLimitConfig, logger *slog.Logger) []func(http.Handler) http.Handler {
	if cfg.RPS <= 0 {
		return nil
	}
	return []func(http.Handler) http.Handler{middleware.RateLimit(cfg, logger)}
}
