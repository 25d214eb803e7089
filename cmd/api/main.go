package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/enrichman/httpgrace"
	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	server "stay_sync/internal/adapters/http_server"
	"stay_sync/internal/adapters/observability"
	redisad "stay_sync/internal/adapters/redis"
	"stay_sync/internal/adapters/rentals"
	"stay_sync/internal/app"
	"stay_sync/internal/scheduler"
	"stay_sync/internal/shared"
	mysqlrepo "stay_sync/internal/storage/mysql"
)

func main() {
	_ = godotenv.Load()

	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := cache.Client().Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable; quotes served uncached")
	}
	lock := redisad.NewPassLock(cache.Client(), "")

	client, err := rentals.New(cfg.Rentals.BaseURL, cfg.Rentals.Username, cfg.Rentals.Password, cfg.Rentals.RPS, cfg.Rentals.Timeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Rentals client")
	}
	loc, err := cfg.Sync.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid sync timezone")
	}

	syncSvc := app.NewSyncService(client, repo, repo, repo, cache, lock, app.SyncOptions{
		Workers:   cfg.Sync.Workers,
		UnitDelay: cfg.Sync.UnitDelay,
		Location:  loc,
		LockTTL:   cfg.Sync.LockTTL,
	})
	inv := app.NewInvalidator(repo, repo, repo, cache)
	q := app.NewQueryService(repo, repo, cache, cfg.CacheTTL)

	daily, err := scheduler.NewDaily(syncSvc, cfg.Sync.At, cfg.Sync.Poll, loc, cfg.Sync.StaleAfter)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler init failed")
	}
	if st, err := syncSvc.Status(ctx); err != nil {
		log.Warn().Err(err).Msg("could not read last sync time")
	} else if st.LastSyncedAt != nil {
		daily.SeedLastSuccess(*st.LastSyncedAt)
	}
	if cfg.SchedulerEnabled {
		daily.Start(ctx)
		log.Info().Str("at", cfg.Sync.At).Str("tz", loc.String()).Msg("daily sync scheduled")
	}

	// http
	srv := server.New(cfg.HTTP.RequestTimeout)
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Q:           q,
		Inv:         inv,
		Sync:        daily,
		Status:      syncSvc,
		WebhookHash: cfg.Rentals.WebhookHash,
	})

	httpSrv := httpgrace.NewServer(srv.Mux(),
		httpgrace.WithTimeout(cfg.ShutdownTimeout),
		httpgrace.WithSignals(syscall.SIGTERM, syscall.SIGINT),
		httpgrace.WithLogger(slog.New(slog.NewTextHandler(log.Logger, nil))),
		httpgrace.WithBeforeShutdown(func() {
			log.Info().Msg("shutting down API server")
			cancel()
		}),
		httpgrace.WithServerOptions(
			httpgrace.WithReadTimeout(cfg.HTTP.ReadTimeout),
			httpgrace.WithIdleTimeout(cfg.HTTP.IdleTimeout),
			func(s *http.Server) {
				s.BaseContext = func(_ net.Listener) context.Context {
					return context.Background()
				}
			},
		),
	)

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	if err := httpSrv.ListenAndServe(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}
	_ = db.Close()
}
