package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Nutcoco971/ProjectavisFew/pkg/logger"
)

// RateLimitConfig sets the per-client token bucket.
type RateLimitConfig struct {
	// RPS is the sustained number of requests per second per client.
	RPS     float64
	// Burst is the number of requests a client may make at once.
	Burst   int
	// IdleTTL is how long an unused client bucket is kept. Defaults to 3m.
	IdleTTL time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitorStore holds one limiter per client key and drops idle ones lazily.
type visitorStore struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	nowFunc   func() time.Time
}

func newVisitorStore(cfg RateLimitConfig) *visitorStore {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &visitorStore{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(cfg.RPS),
		burst:     cfg.Burst,
		ttl:       cfg.IdleTTL,
		lastSweep: time.Now(),
		nowFunc:   time.Now,
	}
}

func (s *visitorStore) get(key string) (*rate.Limiter, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if now.Sub(s.lastSweep) > s.ttl {
		for k, v := range s.visitors {
			if now.Sub(v.lastSeen) > s.ttl {
				delete(s.visitors, k)
			}
		}
		s.lastSweep = now
	}

	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter, now
}

func (s *visitorStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// RateLimit rejects requests over the client's token bucket with 429 and a
// Retry-After header. Signed-in users are keyed by user id, everyone else by
// client IP. Mount it after RequestLogger so the actor is known.
func RateLimit(cfg RateLimitConfig, log *slog.Logger) func(http.Handler) http.Handler {
	return newRateLimit(newVisitorStore(cfg), log)
}

func newRateLimit(store *visitorStore, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			limiter, now := store.get(key)

			res := limiter.ReserveN(now, 1)
			if delay := res.DelayFrom(now); delay > 0 {
				res.CancelAt(now)
				retry := 1
				if delay != rate.InfDuration {
					retry = max(1, int(math.Ceil(delay.Seconds())))
				}
				log.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("client", key),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if actor, ok := logger.ActorFromContext(r.Context()); ok && actor.Kind == "registered" && actor.ID != "" {
		return "user:" + actor.ID
	}
	return "ip:" + clientIP(r)
}

// clientIP prefers the first address of X-Forwarded-For, then X-Real-IP, then
// the connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
