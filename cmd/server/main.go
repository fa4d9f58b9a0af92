// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Command server runs the Rollcall pipeline: the minute producer, the
// durable job queue, the consumer handlers and the ops HTTP surface,
// all under one supervision tree. Producer and consumer can be toggled
// independently so the same binary serves split deployments.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/goldpen/rollcall/internal/api"
	"github.com/goldpen/rollcall/internal/cache"
	"github.com/goldpen/rollcall/internal/clock"
	"github.com/goldpen/rollcall/internal/config"
	"github.com/goldpen/rollcall/internal/gateway"
	"github.com/goldpen/rollcall/internal/logging"
	"github.com/goldpen/rollcall/internal/notify"
	"github.com/goldpen/rollcall/internal/pipeline/consumer"
	"github.com/goldpen/rollcall/internal/pipeline/producer"
	"github.com/goldpen/rollcall/internal/queue"
	"github.com/goldpen/rollcall/internal/store"
	"github.com/goldpen/rollcall/internal/supervisor"
	"github.com/goldpen/rollcall/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rollcall: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	log := logging.Logger()
	log.Info().
		Bool("producer", cfg.Producer.Enabled).
		Bool("consumer", cfg.Consumer.Enabled).
		Str("timezone", cfg.App.Timezone).
		Msg("starting rollcall")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk, err := clock.New(cfg.App.Timezone)
	if err != nil {
		return err
	}

	db, err := store.NewPostgres(ctx, cfg.Database.DSN, store.Options{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}

	// The broker starts before the tree so queue clients can connect
	// during wiring. Its shutdown runs under supervision.
	var broker *queue.EmbeddedServer
	if cfg.NATS.EmbeddedServer {
		broker, err = queue.NewEmbeddedServer(cfg.NATS.URL, cfg.NATS.StoreDir)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		cfg.NATS.URL = broker.ClientURL()
		log.Info().Str("url", cfg.NATS.URL).Msg("embedded nats server ready")
	}

	nc, err := natsgo.Connect(cfg.NATS.URL, natsgo.Name("rollcall-stream-admin"))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	streams, err := queue.NewStreamManager(nc, cfg.NATS)
	if err != nil {
		nc.Close()
		return err
	}
	if _, err := streams.EnsureStream(ctx); err != nil {
		nc.Close()
		return fmt.Errorf("ensure stream: %w", err)
	}
	nc.Close()

	wmLogger := queue.NewWatermillLogger(log)
	publisher, err := queue.NewPublisher(cfg.NATS, wmLogger)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	defer publisher.Close()

	notifier := buildNotifier(db, cfg, log)
	jobs := consumer.New(db, notifier, clk, cfg.Consumer, log)

	tree, err := supervisor.NewTree(supervisionLogger(cfg.Logging), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervision tree: %w", err)
	}

	if broker != nil {
		tree.AddPipelineService(services.NewBrokerService(broker, 10*time.Second))
	}

	if cfg.Consumer.Enabled {
		subscriber, err := queue.NewSubscriber(cfg.NATS, wmLogger)
		if err != nil {
			return fmt.Errorf("create subscriber: %w", err)
		}
		defer subscriber.Close()

		router, err := queue.NewRouter(cfg.NATS, publisher.WatermillPublisher(), wmLogger)
		if err != nil {
			return fmt.Errorf("create consumer router: %w", err)
		}
		router.AddConsumerHandler("job-processor", cfg.NATS.Subject, subscriber.WatermillSubscriber(), jobs.Handle)
		tree.AddPipelineService(services.NewRouterService(router))
	}

	if cfg.Producer.Enabled {
		tree.AddPipelineService(producer.New(db, publisher, clk, cfg.Producer, cfg.NATS.Subject, log))
	}

	var dispatcher api.Dispatcher
	if cfg.Consumer.Enabled {
		dispatcher = jobs
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(db, dispatcher, clk, log),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
	}
	tree.AddAPIService(services.NewHTTPService(httpServer, cfg.Server.Timeout))
	log.Info().Str("addr", httpServer.Addr).Msg("ops server listening")

	err = tree.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervision tree: %w", err)
	}
	log.Info().Msg("rollcall stopped")
	return nil
}

func buildNotifier(db *store.Postgres, cfg *config.Config, log zerolog.Logger) *notify.Notifier {
	templates := cache.New(cfg.Gateway.TemplateCacheTTL)
	resolver := gateway.NewResolver(db, templates, cfg.Gateway.TemplateCacheTTL)

	client := gateway.NewAlimTalk(gateway.AlimTalkConfig{
		BaseURL:        cfg.Gateway.BaseURL,
		APIKey:         cfg.Gateway.APIKey,
		APISecret:      cfg.Gateway.APISecret,
		PfID:           cfg.Gateway.PfID,
		Sender:         cfg.Gateway.Sender,
		RequestTimeout: cfg.Gateway.RequestTimeout,
		RatePerSecond:  cfg.Gateway.RatePerSecond,
	}, log)
	monitor := gateway.NewTelegram(cfg.Gateway.TelegramToken, cfg.Gateway.TelegramChatID, log)

	return notify.New(db, client, monitor, resolver, cfg.Gateway.MessageCost, log)
}

// supervisionLogger adapts the logging config for suture, which hooks
// into slog rather than zerolog.
func supervisionLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug", "trace":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
