package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/api"
	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/audit"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notify"
	"github.com/hackgods/clinic-appointment-scheduling/internal/realtime"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("prod", "info").Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Component(logging.New(cfg.Env, cfg.LogLevel), "api-server")
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.PostgresMaxConn)})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Audit
	recorders := audit.Multi{audit.NewPgRecorder(pgPool)}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaRecorder := audit.NewKafkaRecorder(cfg.KafkaBrokers, cfg.AuditTopic)
		defer func() {
			if err := kafkaRecorder.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing kafka audit writer")
			}
		}()
		recorders = append(recorders, kafkaRecorder)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.AuditTopic).Msg("audit records mirrored to kafka")
	}

	// Live channel
	hub := realtime.NewHub()
	var live notify.Channel = realtime.NewLocalChannel(hub)
	if cfg.LiveFanout == "redis" {
		live = realtime.NewRedisPublisher(rdb)
		bridge := realtime.NewBridge(rdb, hub, logging.Component(logger, "live-bridge"))
		go func() {
			if err := bridge.Run(rootCtx, nil); err != nil {
				logger.Error().Err(err).Msg("live bridge stopped")
			}
		}()
	}

	repo := appointment.NewPgRepository(pgPool)

	// Deferred channel
	deferred, err := deferredChannel(rootCtx, cfg, repo, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("notification channel setup error")
	}

	fanout := notify.NewFanout(logging.Component(logger, "notify"), m, cfg.NotifyTimeout, live, deferred)
	svc := appointment.NewService(repo,
		redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait),
		cfg,
		appointment.WithNotifier(fanout),
		appointment.WithAuditRecorder(recorders),
		appointment.WithMetrics(m),
		appointment.WithLogger(logging.Component(logger, "appointment")),
	)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Verifier: auth.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Live:     realtime.NewHandler(hub, logging.Component(logger, "live")),
		PgPool:   pgPool,
		Redis:    rdb,
		Metrics:  m,
		Gatherer: registry,
		Logger:   logger,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}

	// in-flight notifications finish before the pools close
	fanout.Wait()
	logger.Info().Msg("api-server stopped")
}

// deferredChannel hands email to the notification worker when a queue is
// configured and sends it in-process otherwise.
func deferredChannel(ctx context.Context, cfg config.Config, dir notify.Directory, logger zerolog.Logger) (notify.Channel, error) {
	if cfg.NotifyQueueURL != "" {
		queue, err := notify.NewNotificationQueue(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("queue_url", cfg.NotifyQueueURL).Msg("email delivery deferred to notification worker")
		return notify.NewQueueChannel(queue), nil
	}

	sender, err := notify.NewEmailSender(ctx, cfg, logging.Component(logger, "email"))
	if err != nil {
		return nil, err
	}
	logger.Info().Str("provider", cfg.EmailProvider).Msg("email delivered in-process")
	return notify.NewEmailChannel(dir, sender), nil
}
