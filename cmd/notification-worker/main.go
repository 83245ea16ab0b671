package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("prod", "info").Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Component(logging.New(cfg.Env, cfg.LogLevel), "notification-worker")
	if cfg.NotifyQueueURL == "" {
		logger.Fatal().Msg("NOTIFY_QUEUE_URL is required")
	}
	logger.Info().Str("env", cfg.Env).Str("queue_url", cfg.NotifyQueueURL).Str("provider", cfg.EmailProvider).Msg("notification worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	queue, err := notify.NewNotificationQueue(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("queue setup error")
	}
	sender, err := notify.NewEmailSender(rootCtx, cfg, logging.Component(logger, "email"))
	if err != nil {
		logger.Fatal().Err(err).Msg("email sender setup error")
	}

	channel := notify.NewEmailChannel(appointment.NewPgRepository(pgPool), sender)
	notify.NewConsumer(queue, channel, logger).Run(rootCtx)

	logger.Info().Msg("shutdown signal received, notification worker stopped")
}
