package main

import (
	"errors"
	"time"

	"github.com/slotwise/slotwise/libs/config"
	"github.com/slotwise/slotwise/services/booking-service/internal/availability"
	"github.com/slotwise/slotwise/services/booking-service/internal/batch"
	"github.com/slotwise/slotwise/services/booking-service/internal/cache"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
)

type settings struct {
	Service   string
	LogLevel  string
	Port      string
	GRPCPort  string
	DBURL     string
	SQLite    string
	RedisAddr string
	RedisPass string
	Brokers   string

	Defaults       availability.Defaults
	BatchMaxDays   int
	BatchWorkers   int
	SeriesMaxTries int
	CacheTTL       time.Duration

	RateLimit       int
	RateLimitOpen   bool
	CORSOrigins     []string
	RequestTimeout  time.Duration
	BodyLimitBytes  int
	OutboxPollEvery time.Duration
	OutboxBatchSize int
}

// loadSettings reads the environment. Every malformed value is reported, not
// just the first.
func loadSettings() (settings, error) {
	s := settings{
		Service:       config.String("SERVICE_NAME", "booking-service"),
		LogLevel:      config.String("LOG_LEVEL", "info"),
		SQLite:        config.String("SQLITE_PATH", ""),
		RedisAddr:     config.String("REDIS_ADDR", ""),
		RedisPass:     config.String("REDIS_PASSWORD", ""),
		Brokers:       config.String("KAFKA_BROKERS", ""),
		RateLimitOpen: config.Bool("RATE_LIMIT_FAIL_OPEN", true),
		CORSOrigins:   config.List("CORS_ALLOWED_ORIGINS"),
		Defaults: availability.Defaults{
			Timezone: config.String("DEFAULT_TIMEZONE", "UTC"),
		},
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	s.Port, err = config.Port("PORT", "8083")
	collect(err)
	s.GRPCPort, err = config.Port("GRPC_PORT", "9083")
	collect(err)
	if s.SQLite == "" {
		s.DBURL, err = config.RequiredString("DATABASE_URL")
		collect(err)
	}
	s.Defaults.StepMinutes, err = config.Int("DEFAULT_STEP_MINUTES", schedule.DefaultStepMinutes)
	collect(err)
	s.BatchMaxDays, err = config.Int("BATCH_MAX_DAYS", batch.DefaultMaxDays)
	collect(err)
	s.BatchWorkers, err = config.Int("BATCH_WORKERS", batch.DefaultWorkers)
	collect(err)
	s.SeriesMaxTries, err = config.Int("SERIES_MAX_TRIES", 3)
	collect(err)
	s.CacheTTL, err = config.Duration("CALENDAR_CACHE_TTL", cache.DefaultTTL)
	collect(err)
	s.RateLimit, err = config.Int("RATE_LIMIT_PER_MINUTE", 120)
	collect(err)
	s.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", 10*time.Second)
	collect(err)
	s.BodyLimitBytes, err = config.Int("BODY_LIMIT_BYTES", 1<<20)
	collect(err)
	s.OutboxPollEvery, err = config.Duration("OUTBOX_POLL_EVERY", 2*time.Second)
	collect(err)
	s.OutboxBatchSize, err = config.Int("OUTBOX_BATCH_SIZE", 50)
	collect(err)

	return s, errors.Join(errs...)
}
