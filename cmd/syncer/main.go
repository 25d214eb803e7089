package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"stay_sync/internal/adapters/observability"
	redisad "stay_sync/internal/adapters/redis"
	"stay_sync/internal/adapters/rentals"
	"stay_sync/internal/app"
	"stay_sync/internal/domain"
	"stay_sync/internal/shared"
	mysqlrepo "stay_sync/internal/storage/mysql"
)

// syncer runs one full sync pass followed by retention cleanup, then exits.
// Suitable for cron or a Kubernetes CronJob when SCHEDULER_ENABLED=false.
func main() {
	skipCleanup := flag.Bool("skip-cleanup", false, "do not delete records past retention")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	log.Info().
		Str("base", cfg.Rentals.BaseURL).
		Int("workers", cfg.Sync.Workers).
		Dur("unit_delay", cfg.Sync.UnitDelay).
		Msg("syncer starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)

	client, err := rentals.New(cfg.Rentals.BaseURL, cfg.Rentals.Username, cfg.Rentals.Password, cfg.Rentals.RPS, cfg.Rentals.Timeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Rentals client")
	}
	cache := redisad.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	loc, err := cfg.Sync.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid sync timezone")
	}

	svc := app.NewSyncService(client, repo, repo, repo, cache, redisad.NewPassLock(cache.Client(), ""), app.SyncOptions{
		Workers:   cfg.Sync.Workers,
		UnitDelay: cfg.Sync.UnitDelay,
		Location:  loc,
		LockTTL:   cfg.Sync.LockTTL,
	})

	start := time.Now()
	res, err := svc.SyncAllUnits(ctx)
	switch {
	case errors.Is(err, domain.ErrSyncInProgress):
		log.Warn().Msg("another sync pass holds the lock; exiting")
		return
	case err != nil:
		log.Error().Err(err).Msg("sync pass failed")
		os.Exit(1)
	}

	if !*skipCleanup {
		if _, err := svc.CleanupOldData(ctx); err != nil {
			log.Warn().Err(err).Msg("cleanup failed")
		}
	}

	log.Info().
		Str("run_id", res.RunID).
		Int("success", res.SuccessCount).
		Int("skipped", res.SkippedCount).
		Int("errors", res.ErrorCount).
		Dur("elapsed", time.Since(start)).
		Msg("sync completed")
	if res.ErrorCount > 0 && res.SuccessCount == 0 {
		os.Exit(2)
	}
}
