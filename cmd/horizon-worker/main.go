package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/caretide/clinic-scheduling/internal/audit"
	"github.com/caretide/clinic-scheduling/internal/config"
	"github.com/caretide/clinic-scheduling/internal/db"
	redisclient "github.com/caretide/clinic-scheduling/internal/redis"
	"github.com/caretide/clinic-scheduling/internal/schedule"
)

// The horizon worker keeps the rolling slot window materialized: every
// interval it reconciles all active locations so that new days enter the
// horizon and stale days age out without any admin interaction.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	level, lerr := zerolog.ParseLevel(cfg.LogLevel)
	if lerr != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("component", "horizon-worker").Logger()

	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Int("horizon_days", cfg.HorizonDays).Msg("horizon-worker starting up")

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

	repo := schedule.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocationLocker(rdb, cfg.ReconcileTTL)
	sink := audit.NewPgSink(pgPool, logger)
	svc := schedule.NewService(repo, locker, sink, logger, cfg.HorizonDays)

	// Run once at startup so a fresh deployment has slots immediately.
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping horizon worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *schedule.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	if err := svc.ReconcileAll(runCtx, "horizon-worker"); err != nil {
		logger.Error().Err(err).Msg("reconcile run error")
		return
	}
	logger.Info().Dur("took", time.Since(start)).Msg("reconcile run complete")
}
