package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/pulseim/realtime/internal/auth"
	"github.com/pulseim/realtime/internal/bus"
	"github.com/pulseim/realtime/internal/chat"
	"github.com/pulseim/realtime/internal/config"
	"github.com/pulseim/realtime/internal/limits"
	"github.com/pulseim/realtime/internal/logging"
	"github.com/pulseim/realtime/internal/migrate"
	"github.com/pulseim/realtime/internal/presence"
	"github.com/pulseim/realtime/internal/server"
	"github.com/pulseim/realtime/internal/store/postgres"
	"github.com/pulseim/realtime/internal/worker"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		logger := logging.New(logging.Config{Level: "info", Format: "json"})
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	migrateCtx, migrateCancel := context.WithTimeout(ctx, time.Minute)
	if err := migrate.Up(migrateCtx, cfg.DatabaseDSN); err != nil {
		migrateCancel()
		logger.Fatal().Err(err).Msg("Failed to apply migrations")
	}
	migrateCancel()

	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database pool")
	}
	defer db.Close()

	var publisher chat.Publisher = chat.NopPublisher{}
	var natsBus *bus.Publisher
	if cfg.NATSURL != "" {
		natsBus, err = bus.Connect(bus.Config{
			URL:           cfg.NATSURL,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			PingInterval:  20 * time.Second,
			MaxPingsOut:   3,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsBus.Close()
		publisher = natsBus
	}

	pool := worker.NewPool(cfg.WorkerCount, cfg.WorkerQueueSize, logger)
	pool.Start(ctx)

	users := postgres.NewUserRepo(db)
	groups := postgres.NewGroupRepo(db)
	messages := postgres.NewMessageRepo(db)
	calls := postgres.NewCallRepo(db)

	registry := presence.NewRegistry(users, func(f func()) { pool.Submit(f) }, logger)
	budgets := limits.NewTracker()
	admission := limits.NewAdmission(limits.AdmissionConfig{
		IPRate:  cfg.AdmissionRate,
		IPBurst: cfg.AdmissionBurst,
	}, logger)
	defer admission.Stop()

	srv := server.New(server.Config{
		Addr:            cfg.Addr,
		MaxConnections:  cfg.MaxConnections,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, server.Deps{
		Registry:  registry,
		Budgets:   budgets,
		Admission: admission,
		Workers:   pool,
		Fanout:    chat.NewFanout(messages, groups, users, registry, publisher, logger),
		Reactions: chat.NewReactions(messages, groups, registry, logger),
		Calls:     chat.NewCalls(calls, registry, publisher, logger),
		Auth:      auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL),
	}, logger)

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down")
	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
	cancel()
	pool.Stop()
}
