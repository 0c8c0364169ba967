package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/myhubcares/clinic-scheduling/internal/appointment"
	"github.com/myhubcares/clinic-scheduling/internal/config"
	"github.com/myhubcares/clinic-scheduling/internal/db"
	"github.com/myhubcares/clinic-scheduling/internal/logging"
	"github.com/myhubcares/clinic-scheduling/internal/notification"
	redisclient "github.com/myhubcares/clinic-scheduling/internal/redis"
	"github.com/myhubcares/clinic-scheduling/internal/reminder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logging.Init("reminder-worker", cfg.Env)
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("reminder-worker starting up")

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
	notifRepo := notification.NewPgRepository(pgPool)
	pusher := redisclient.NewRedisPusher(rdb)
	store := reminder.NewPgStore(pgPool)

	dispatcher := reminder.NewDispatcher(store, repo, notifRepo, notifRepo, pusher)

	// Run once at startup
	runOnce(rootCtx, dispatcher)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, dispatcher)
		}
	}
}

func runOnce(ctx context.Context, d *reminder.Dispatcher) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := d.Run(runCtx); err != nil {
		log.Error().Err(err).Msg("reminder run error")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("reminder run complete")
}
