package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/slotwise/slotwise/libs/config"
	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/libs/grpcx"
	"github.com/slotwise/slotwise/libs/httpx"
	"github.com/slotwise/slotwise/libs/kafkax"
	otelx "github.com/slotwise/slotwise/libs/otel"
	"github.com/slotwise/slotwise/libs/runtime"
	"github.com/slotwise/slotwise/services/booking-service/internal/batch"
	"github.com/slotwise/slotwise/services/booking-service/internal/cache"
	"github.com/slotwise/slotwise/services/booking-service/internal/handlers"
	"github.com/slotwise/slotwise/services/booking-service/internal/outbox"
	"github.com/slotwise/slotwise/services/booking-service/internal/recurrence"
	"github.com/slotwise/slotwise/services/booking-service/internal/storage"
	"github.com/slotwise/slotwise/services/booking-service/internal/storage/sqlitestore"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// engineStore is what the engine reads from and writes through.
type engineStore interface {
	batch.Store
	recurrence.Store
	recurrence.TxRunner
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run owns every resource of the process so deferred cleanup always runs.
func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelCfg, err := otelx.ConfigFromEnv(cfg.Service)
	if err != nil {
		return err
	}
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer runtime.Shutdown(logger, "otel", 5*time.Second, otelShutdown)
	}

	var (
		store  engineStore
		checks []runtime.ReadyCheck
	)
	if cfg.SQLite != "" {
		lite, err := sqlitestore.Open(ctx, cfg.SQLite)
		if err != nil {
			return fmt.Errorf("open sqlite %s: %w", cfg.SQLite, err)
		}
		defer func() { _ = lite.Close() }()
		store = lite
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: lite.Ping})
		logger.Info("using sqlite store; outbox events are not published", "path", cfg.SQLite)
	} else {
		pool, err := db.Open(ctx, cfg.DBURL)
		if err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		defer pool.Close()
		pg := storage.NewStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate db: %w", err)
		}
		store = pg
		checks = append(checks,
			runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
			runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.Brokers)},
		)

		publisher := outbox.NewPublisher(pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
			Brokers:   cfg.Brokers,
			PollEvery: cfg.OutboxPollEvery,
			BatchSize: cfg.OutboxBatchSize,
		})
		go publisher.Run(ctx)
	}

	var (
		calendarCache *cache.CalendarCache
		limiter       httpx.Limiter
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
		defer func() { _ = rdb.Close() }()
		calendarCache = cache.NewCalendarCache(rdb, cfg.CacheTTL)
		limiter = httpx.NewRedisLimiter(rdb, cfg.RateLimit, time.Minute, "slotwise:rl")
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("redis enabled", "addr", cfg.RedisAddr, "rate_limit_per_minute", cfg.RateLimit)
	} else {
		limiter = httpx.NewMemoryLimiter(cfg.RateLimit, time.Minute)
		logger.Info("redis disabled; in-memory rate limit and no calendar cache", "rate_limit_per_minute", cfg.RateLimit)
	}

	checker := batch.NewChecker(store, cfg.Defaults, logger)
	checker.MaxDays = cfg.BatchMaxDays
	checker.Workers = cfg.BatchWorkers
	creator := &recurrence.Creator{
		Validator: &recurrence.Validator{Store: store, Defaults: cfg.Defaults},
		Tx:        store,
		Logger:    logger,
		MaxTries:  uint(cfg.SeriesMaxTries),
		BackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.Register(mux,
		handlers.NewAvailabilityHandler(checker, calendarCache, logger),
		handlers.NewSeriesHandler(creator, logger),
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.PublicCORSPolicy(cfg.CORSOrigins)),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(int64(cfg.BodyLimitBytes)),
		httpx.WithTimeout(cfg.RequestTimeout),
		httpx.WithRateLimit(limiter, logger, cfg.RateLimitOpen),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	health := grpcx.NewHealthServer(logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", cfg.GRPCPort, err)
	}
	go health.Serve(ctx, lis)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	health.SetServing(true)

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	health.SetServing(false)
	runtime.Shutdown(logger, "http server", 10*time.Second, srv.Shutdown)
	logger.Info("http server stopped")
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
