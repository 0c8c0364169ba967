package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/myhubcares/clinic-scheduling/internal/api"
	"github.com/myhubcares/clinic-scheduling/internal/appointment"
	"github.com/myhubcares/clinic-scheduling/internal/audit"
	"github.com/myhubcares/clinic-scheduling/internal/config"
	"github.com/myhubcares/clinic-scheduling/internal/db"
	"github.com/myhubcares/clinic-scheduling/internal/logging"
	"github.com/myhubcares/clinic-scheduling/internal/notification"
	redisclient "github.com/myhubcares/clinic-scheduling/internal/redis"
	"github.com/myhubcares/clinic-scheduling/internal/reminder"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logging.Init("api-server", cfg.Env)
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisBookingLocker(rdb, cfg.LockTTL)
	pusher := redisclient.NewRedisPusher(rdb)

	notifRepo := notification.NewPgRepository(pgPool)
	fanout := notification.NewFanout(notifRepo, notifRepo, pusher)
	auditor := audit.NewPgRecorder(pgPool)
	reminders := reminder.NewPgStore(pgPool)

	svc := appointment.NewService(repo, locker, fanout, auditor, reminders, cfg)

	router := api.NewRouter(api.RouterConfig{
		Service:       svc,
		Notifications: notifRepo,
		PgPool:        pgPool,
		Redis:         rdb,
		Env:           cfg.Env,
		Version:       version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
}
