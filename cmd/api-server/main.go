package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/caretide/clinic-scheduling/internal/api"
	"github.com/caretide/clinic-scheduling/internal/audit"
	"github.com/caretide/clinic-scheduling/internal/booking"
	"github.com/caretide/clinic-scheduling/internal/config"
	"github.com/caretide/clinic-scheduling/internal/db"
	"github.com/caretide/clinic-scheduling/internal/notify"
	redisclient "github.com/caretide/clinic-scheduling/internal/redis"
	"github.com/caretide/clinic-scheduling/internal/schedule"
)

const version = "1.2.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := newLogger(cfg)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	migCtx, cancelMig := context.WithTimeout(rootCtx, 30*time.Second)
	err = db.Migrate(migCtx, pgPool)
	cancelMig()
	if err != nil {
		logger.Fatal().Err(err).Msg("migration error")
	}

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	var notifier notify.Notifier = notify.Nop{}
	if cfg.AMQPURL != "" {
		amqpn, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			// Notifications are best-effort; the service runs without them.
			logger.Error().Err(err).Msg("amqp connection error, notifications disabled")
		} else {
			defer amqpn.Close()
			notifier = amqpn
			logger.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to RabbitMQ")
		}
	}

	sink := audit.NewPgSink(pgPool, logger)
	locker := redisclient.NewRedisLocationLocker(rdb, cfg.ReconcileTTL)

	scheduleRepo := schedule.NewPgRepository(pgPool)
	scheduleSvc := schedule.NewService(scheduleRepo, locker, sink, logger, cfg.HorizonDays)

	bookingRepo := booking.NewPgRepository(pgPool, cfg.LockWait)
	bookingSvc := booking.NewService(bookingRepo, notifier, sink, logger, cfg.BookingRetries, cfg.RetryDelay)
	auditor := booking.NewAuditor(bookingRepo, sink, logger)

	router := api.NewRouter(api.RouterConfig{
		Booking:  bookingSvc,
		Schedule: scheduleSvc,
		Auditor:  auditor,
		PgPool:   pgPool,
		Redis:    rdb,
		Logger:   logger,
		Env:      cfg.Env,
		Version:  version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	logger.Info().Msg("api-server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stdout
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if cfg.Env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out})
	}
	return logger
}
