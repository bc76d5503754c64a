package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Nutcoco971/ProjectavisFew/pkg/database"
	"github.com/Nutcoco971/ProjectavisFew/pkg/health"
	"github.com/Nutcoco971/ProjectavisFew/pkg/httpclient"
	pkgkafka "github.com/Nutcoco971/ProjectavisFew/pkg/kafka"
	"github.com/Nutcoco971/ProjectavisFew/pkg/middleware"
	"github.com/Nutcoco971/ProjectavisFew/pkg/tracing"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/auth"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/catalog"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/config"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/event"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/feed"
	handler "github.com/Nutcoco971/ProjectavisFew/services/review/internal/handler/http"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/repository"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/repository/postgres"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/repository/redis"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/service"
	"github.com/Nutcoco971/ProjectavisFew/services/review/migrations"
)

const serviceName = "review"

// App wires together all dependencies and runs the review service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	httpServer     *http.Server
	feedRunner     *feed.Runner
	reconciler     *feed.Reconciler
	reaper         *service.Reaper
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := cfg.PostgresConfig()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Redis backs the cross-replica submission lock, feed deduplication and
	// the catalog cache. Without it the service runs on in-process state.
	var redisClient *goredis.Client
	if cfg.RedisEnabled {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisConfig())
		if err != nil {
			logger.Warn("redis unavailable, continuing with in-process submission guard",
				slog.String("addr", cfg.RedisConfig().Addr()),
				slog.String("error", err.Error()),
			)
			redisClient = nil
		} else {
			logger.Info("connected to Redis", slog.String("addr", cfg.RedisConfig().Addr()))
		}
	}

	// Initialize Kafka producer with connection validation and retry.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)

	// Build the dependency graph.
	reviewRepo := postgres.NewReviewRepository(pool)
	contentRepo := postgres.NewContentRepository(pool)

	var (
		contentCatalog repository.ContentCatalog = contentRepo
		contentReader  handler.ContentReader     = contentRepo
	)
	if cfg.CatalogURL != "" {
		cb := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("content-catalog"),
			logger,
		)
		remote := catalog.NewClient(cb, cfg.CatalogURL)
		contentCatalog, contentReader = remote, remote
		logger.Info("using remote content catalog", slog.String("url", cfg.CatalogURL))
	}

	var guard service.SubmissionGuard
	if redisClient != nil {
		contentCatalog = redis.NewCachedCatalog(redisClient, contentCatalog, cfg.CatalogCacheTTL, cfg.CatalogMissTTL, logger)
		guard = redis.NewSubmissionLock(redisClient, cfg.SubmissionLockTTL)
	}

	hub := feed.NewHub()
	reconciler := feed.NewReconciler(reviewRepo, hub, logger)
	eventProducer := event.NewProducer(producer, logger)
	reviewService := service.NewReviewService(reviewRepo, contentCatalog, reconciler, guard, eventProducer, logger)

	// Every instance holds its own view, so every instance reads the whole feed.
	groupID := cfg.FeedGroupPrefix + "-" + instanceID()
	var dedupe pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(cfg.FeedDedupeWindow)
	if redisClient != nil {
		dedupe = redis.NewIdempotencyStore(redisClient, groupID, cfg.FeedDedupeWindow)
	}
	consumerHandler := event.NewConsumerHandler(reconciler, logger)
	feedRunner := feed.NewRunner(
		event.NewSourceFactory(event.SourceConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: groupID,
			DLQ:     dlq,
		}, pkgkafka.IdempotentHandler(groupID, dedupe, consumerHandler.Handle, logger), logger),
		feed.RunnerConfig{
			MinBackoff: cfg.FeedMinBackoff,
			MaxBackoff: cfg.FeedMaxBackoff,
			Resync:     reconciler.Resync,
		},
		logger,
	)
	logger.Info("change feed configured", slog.String("group_id", groupID))

	var reaper *service.Reaper
	if cfg.ReaperEnabled {
		reaper = service.NewReaper(reviewRepo, reconciler, cfg.ReaperInterval, logger)
	}

	// Session tokens.
	var tokens middleware.TokenValidator
	if cfg.JWTSecret != "" {
		tokens = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, 24*time.Hour).Validator()
	} else {
		logger.Warn("JWT_SECRET not set, only anonymous submissions are accepted")
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.Register("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})
	if redisClient != nil {
		healthHandler.Register("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	// HTTP router.
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.AllowedOrigins
	submitLimit := middleware.RateLimitConfig{RPS: cfg.SubmitRateLimit, Burst: cfg.SubmitRateBurst}
	router := handler.NewRouter(reviewService, contentReader, healthHandler, tokens, corsCfg, submitLimit, logger)

	// WriteTimeout does not apply to live connections: the websocket upgrade
	// clears the connection deadlines.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		dlq:            dlq,
		httpServer:     httpServer,
		feedRunner:     feedRunner,
		reconciler:     reconciler,
		reaper:         reaper,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server, the change feed and background jobs, then
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg sync.WaitGroup

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Start the change feed. The runner resubscribes on its own after drops.
	bg.Add(1)
	go func() {
		defer bg.Done()
		_ = a.feedRunner.Run(bgCtx)
	}()

	// Keep the local view in step with the store and release idle content.
	bg.Add(1)
	go func() {
		defer bg.Done()
		a.reconciler.RunMaintenance(bgCtx, feed.MaintenanceConfig{
			ResyncInterval: a.cfg.FeedResyncInterval,
			IdleTTL:        a.cfg.FeedIdleTTL,
		})
	}()

	// Start the expired review purge.
	if a.reaper != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			a.reaper.Run(bgCtx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	stopBackground()
	bg.Wait()
	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producers
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka producers.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Close Redis.
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 5. Close PostgreSQL pool.
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// instanceID names this process in its consumer group. The hostname is
// stable across restarts of the same pod.
func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s/4s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := producer.Ping(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
