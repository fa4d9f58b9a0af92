// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/goldpen/rollcall/internal/config"
)

// Publisher wraps a Watermill NATS publisher with circuit breaker
// protection and reconnection handling. Each message carries its UUID
// as Nats-Msg-Id so JetStream's duplicate window drops republishes of
// the same job.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[any]
	mu             sync.RWMutex
	closed         bool
	logger         watermill.LoggerAdapter
}

// NewPublisher creates a resilient JetStream publisher. The stream is
// pre-created by the StreamManager, so auto-provisioning stays off.
func NewPublisher(cfg config.NATSConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.ReconnectBufSize(8 * 1024 * 1024),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "queue-publisher",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Publisher{
		publisher:      pub,
		circuitBreaker: cb,
		logger:         logger,
	}, nil
}

// Publish sends one message with circuit breaker protection. The
// message UUID becomes the Nats-Msg-Id unless already set.
func (p *Publisher) Publish(ctx context.Context, topic string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	if p.circuitBreaker != nil {
		_, err := p.circuitBreaker.Execute(func() (any, error) {
			return nil, p.publisher.Publish(topic, msg)
		})
		return err
	}
	return p.publisher.Publish(topic, msg)
}

// PublishBatch publishes every message, continuing past individual
// failures so one bad publish does not starve the rest of a fan-out.
// The joined error reports each failed message.
func (p *Publisher) PublishBatch(ctx context.Context, topic string, msgs ...*message.Message) error {
	var errs []error
	for _, msg := range msgs {
		if err := p.Publish(ctx, topic, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish message %s: %w", msg.UUID, err))
		}
	}
	return errors.Join(errs...)
}

// WatermillPublisher exposes the underlying publisher for Watermill
// components that need the native interface, such as the poison queue
// middleware.
func (p *Publisher) WatermillPublisher() message.Publisher {
	return p.publisher
}

// Close gracefully shuts down the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return p.publisher.Close()
}
