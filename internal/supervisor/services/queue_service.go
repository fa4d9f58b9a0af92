// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Runner matches the consumer router's blocking Run lifecycle.
type Runner interface {
	Run(ctx context.Context) error
	Close() error
}

// RouterService runs the consumer router under supervision.
type RouterService struct {
	router Runner
}

// NewRouterService wraps the consumer router.
func NewRouterService(router Runner) *RouterService {
	return &RouterService{router: router}
}

// Serve implements suture.Service. Run blocks until the context is
// canceled; Close then drains in-flight handlers.
func (s *RouterService) Serve(ctx context.Context) error {
	if err := s.router.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("consumer router: %w", err)
	}
	if err := s.router.Close(); err != nil {
		return fmt.Errorf("close consumer router: %w", err)
	}
	return ctx.Err()
}

// String identifies the service in supervision logs.
func (s *RouterService) String() string { return "consumer-router" }

// BrokerRunner matches the embedded NATS server lifecycle. The server
// starts before the tree so publishers can connect during wiring;
// supervision only owns its shutdown.
type BrokerRunner interface {
	IsRunning() bool
	Shutdown(ctx context.Context) error
}

// BrokerService holds the embedded NATS server open until shutdown.
type BrokerService struct {
	broker          BrokerRunner
	shutdownTimeout time.Duration
}

// NewBrokerService wraps a started embedded server.
func NewBrokerService(broker BrokerRunner, shutdownTimeout time.Duration) *BrokerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &BrokerService{broker: broker, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *BrokerService) Serve(ctx context.Context) error {
	if !s.broker.IsRunning() {
		return fmt.Errorf("embedded NATS server is not running")
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.broker.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("embedded NATS shutdown: %w", err)
	}
	return ctx.Err()
}

// String identifies the service in supervision logs.
func (s *BrokerService) String() string { return "embedded-nats" }
