package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Nutcoco971/ProjectavisFew/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context, enriched with
// correlation id, actor and trace ids. Mount it after RequestLogging, Tracing
// and OptionalAuth.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if userID := UserIDFromContext(ctx); userID != "" {
				ctx = logger.WithActor(ctx, "registered", userID)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
