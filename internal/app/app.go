package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Sumudu01/NayanaPharma/internal/catalog"
	"github.com/Sumudu01/NayanaPharma/internal/config"
	"github.com/Sumudu01/NayanaPharma/internal/event"
	handler "github.com/Sumudu01/NayanaPharma/internal/handler/http"
	"github.com/Sumudu01/NayanaPharma/internal/repository"
	"github.com/Sumudu01/NayanaPharma/internal/repository/memory"
	"github.com/Sumudu01/NayanaPharma/internal/repository/postgres"
	redisrepo "github.com/Sumudu01/NayanaPharma/internal/repository/redis"
	"github.com/Sumudu01/NayanaPharma/internal/service"
	"github.com/Sumudu01/NayanaPharma/migrations"
	"github.com/Sumudu01/NayanaPharma/pkg/database"
	"github.com/Sumudu01/NayanaPharma/pkg/health"
	"github.com/Sumudu01/NayanaPharma/pkg/httpclient"
	pkgkafka "github.com/Sumudu01/NayanaPharma/pkg/kafka"
	"github.com/Sumudu01/NayanaPharma/pkg/middleware"
	"github.com/Sumudu01/NayanaPharma/pkg/tracing"
)

// ServiceName labels logs, metrics, traces and Kafka event sources.
const ServiceName = "nayana-pharma"

// App wires together all dependencies and runs the pharmacy service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	deliveries     *pkgkafka.Consumer
	httpServer     *http.Server
	reservations   *service.ReservationManager
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Optional backends (Redis, Kafka, collaborator services) are only contacted
// when configured; otherwise their in-process stand-ins are used.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, tracerShutdown: tracerShutdown}
	healthHandler := health.NewHandler()

	store, err := a.openStore(ctx, healthHandler)
	if err != nil {
		a.closeBackends()
		return nil, err
	}

	sessions, idempotency, eventStore, err := a.openSessionStores(ctx, healthHandler)
	if err != nil {
		a.closeBackends()
		return nil, err
	}

	var publisher service.EventPublisher = service.NoopPublisher{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := pingKafkaWithRetry(ctx, a.producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		publisher = event.NewProducer(a.producer, logger)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
	}

	products := a.productSource(store)
	customers := a.customerDirectory()

	ledger := service.NewLedger(store, publisher, logger)
	monitor := service.NewStockMonitor(store.Products(), publisher, cfg.LowStockThreshold, logger)
	ledger.Observe(monitor)

	a.reservations = service.NewReservationManager(store, products, sessions, publisher, logger, service.ReservationConfig{
		TTL:            cfg.ReservationTTL(),
		SweepBatchSize: cfg.SweepBatchSize,
	})
	checkout := service.NewCheckoutService(store, ledger, a.reservations, sessions, idempotency, customers, publisher, logger)

	policy, err := service.ParseSaleDeletePolicy(cfg.SaleDeletePolicy)
	if err != nil {
		a.closeBackends()
		return nil, fmt.Errorf("sale delete policy: %w", err)
	}
	sales := service.NewSalesService(store, ledger, policy, logger)

	if cfg.KafkaEnabled {
		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		consumer := event.NewConsumer(ledger, logger)
		a.deliveries = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  ServiceName + "-delivery-received",
			Topic:    event.TopicDeliveryReceived,
			MinBytes: 1,
			MaxBytes: 10e6,
		}, pkgkafka.IdempotentHandler(eventStore, consumer.HandleDeliveryReceived, logger), a.dlq, logger)
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	cors.Environment = cfg.Environment

	router := handler.NewRouter(handler.Services{
		Ledger:   ledger,
		Checkout: checkout,
		Monitor:  monitor,
		Sales:    sales,
	}, healthHandler, handler.RouterConfig{
		ServiceName:       ServiceName,
		CORS:              cors,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		LowStockThreshold: cfg.LowStockThreshold,
		RateLimitRPS:      cfg.RateLimitRPS,
		RateLimitBurst:    cfg.RateLimitBurst,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// openStore connects the configured persistence backend.
func (a *App) openStore(ctx context.Context, healthHandler *health.Handler) (repository.Store, error) {
	if a.cfg.StoreDriver == config.DriverMemory {
		a.logger.Warn("using in-memory store; data is lost on restart")
		return memory.NewStore(), nil
	}

	pgCfg := a.cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", a.cfg.PostgresHost),
		slog.Int("port", a.cfg.PostgresPort),
		slog.String("database", a.cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, ServiceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	if a.cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(a.cfg.SlowQueryThreshold(), a.logger)
	}

	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	return postgres.NewStore(pool), nil
}

// openSessionStores returns the cart session, checkout idempotency and
// consumed-event stores, backed by Redis when REDIS_HOST is set.
func (a *App) openSessionStores(ctx context.Context, healthHandler *health.Handler) (
	repository.CartSessionStore, repository.IdempotencyStore, pkgkafka.IdempotencyStore, error,
) {
	if !a.cfg.RedisEnabled() {
		return memory.NewCartSessionStore(a.cfg.CartSessionTTL()),
			memory.NewIdempotencyStore(a.cfg.IdempotencyTTL()),
			pkgkafka.NewMemoryIdempotencyStore(a.cfg.IdempotencyTTL()),
			nil
	}

	client, err := database.NewRedisClient(ctx, a.cfg.Redis())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("addr", a.cfg.Redis().Addr()))

	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return redisrepo.NewCartSessionStore(client, a.cfg.CartSessionTTL()),
		redisrepo.NewIdempotencyStore(client, a.cfg.IdempotencyTTL()),
		redisrepo.NewEventStore(client, a.cfg.IdempotencyTTL()),
		nil
}

// productSource prices cart lines from the catalog service when one is
// configured, falling back to the local product table.
func (a *App) productSource(store repository.Store) service.Catalog {
	local := catalog.NewStoreCatalog(store.Products())
	if a.cfg.CatalogURL == "" {
		return local
	}
	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("catalog"),
		a.logger,
	)
	a.logger.Info("using remote catalog", slog.String("url", a.cfg.CatalogURL))
	return catalog.NewHTTPCatalog(breaker, a.cfg.CatalogURL, local, a.logger)
}

// customerDirectory resolves checkout customers.
func (a *App) customerDirectory() service.CustomerDirectory {
	if a.cfg.CustomerDirectoryURL == "" {
		return catalog.AcceptAllCustomers{}
	}
	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("customers"),
		a.logger,
	)
	return catalog.NewHTTPCustomerDirectory(breaker, a.cfg.CustomerDirectoryURL)
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server, the delivery consumer and the expiry sweep,
// then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.deliveries != nil {
		go func() {
			if err := a.deliveries.Start(ctx); err != nil {
				errCh <- fmt.Errorf("delivery consumer: %w", err)
			}
		}()
	}

	go a.runSweep(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// runSweep periodically releases expired reservations.
func (a *App) runSweep(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := a.reservations.Sweep(ctx)
			if err != nil {
				a.logger.Error("reservation sweep error", slog.String("error", err.Error()))
			} else if released > 0 {
				a.logger.Info("expired reservations released", slog.Int("released", released))
			}
		}
	}
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumer, DLQ writer and producer
// 4. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.closeBackends(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeBackends releases every external connection that was opened.
func (a *App) closeBackends() error {
	var errs []error
	if a.deliveries != nil {
		if err := a.deliveries.Close(); err != nil {
			a.logger.Error("delivery consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
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
