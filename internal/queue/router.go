// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/goldpen/rollcall/internal/config"
)

// Router wraps the Watermill router with the consumer middleware
// chain: panic recovery, exponential backoff retry, and poison queue
// routing for jobs that exhaust their retries.
type Router struct {
	router *message.Router
	logger watermill.LoggerAdapter
}

// NewRouter builds the router. poisonPublisher receives messages that
// fail every retry; pass nil to disable the poison queue.
func NewRouter(cfg config.NATSConfig, poisonPublisher message.Publisher, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	wmRouter.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryCount,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	if poisonPublisher != nil && cfg.PoisonQueueTopic != "" {
		poisonQueue, err := middleware.PoisonQueue(poisonPublisher, cfg.PoisonQueueTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poisonQueue)
	}

	return &Router{router: wmRouter, logger: logger}, nil
}

// AddConsumerHandler registers a handler that consumes from a topic
// without producing output messages. Handler errors trigger retry,
// then poison queue routing.
func (r *Router) AddConsumerHandler(
	name string,
	subscribeTopic string,
	subscriber message.Subscriber,
	handler message.NoPublishHandlerFunc,
) *message.Handler {
	return r.router.AddConsumerHandler(name, subscribeTopic, subscriber, handler)
}

// Run starts the router and blocks until context cancellation or
// Close.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel that closes once the router is running.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close gracefully stops the router, waiting for in-flight jobs up to
// the configured close timeout.
func (r *Router) Close() error {
	return r.router.Close()
}
