// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package consumer dispatches queued jobs to their handlers. Every
// handler is idempotent, so the at-least-once queue semantics stay
// safe: only transient infrastructure failures propagate out of the
// dispatch to trigger redelivery, everything else is logged and the
// message acked.
package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/goldpen/rollcall/internal/clock"
	"github.com/goldpen/rollcall/internal/config"
	"github.com/goldpen/rollcall/internal/metrics"
	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/notify"
	"github.com/goldpen/rollcall/internal/pipeline"
	"github.com/goldpen/rollcall/internal/store"
)

// Store is the persistence surface the handlers need. Ledger and log
// writes go through the notifier, not here.
type Store interface {
	store.TenantStore
	store.StudentStore
	store.PresenceStore
	store.ScheduleStore
	store.ClassStore
	store.AssignmentStore
	store.AttendanceStore
	store.QueueStore
}

// Notifier delivers one notification, returning whether it went out.
type Notifier interface {
	Send(ctx context.Context, actor models.Actor, n notify.Notification) (bool, error)
}

// Consumer routes decoded jobs to handlers.
type Consumer struct {
	store      Store
	notifier   Notifier
	clk        clock.Clock
	serializer *pipeline.Serializer
	cfg        config.ConsumerConfig
	log        zerolog.Logger
}

// New creates a consumer.
func New(s Store, notifier Notifier, clk clock.Clock, cfg config.ConsumerConfig, log zerolog.Logger) *Consumer {
	return &Consumer{
		store:      s,
		notifier:   notifier,
		clk:        clk,
		serializer: pipeline.NewSerializer(),
		cfg:        cfg,
		log:        log.With().Str("component", "consumer").Logger(),
	}
}

// Handle is the Watermill entry point. A malformed payload is dropped
// with an error log since redelivery cannot repair it. Handler errors
// are classified here: transient errors return to the router for
// retry and eventual poison queue routing, terminal errors are
// absorbed.
func (c *Consumer) Handle(msg *message.Message) error {
	job, err := c.serializer.Unmarshal(msg.Payload)
	if err != nil {
		c.log.Error().Err(err).Str("message_uuid", msg.UUID).Msg("drop undecodable job")
		metrics.JobsProcessed.WithLabelValues("unknown", "malformed").Inc()
		return nil
	}

	ctx := msg.Context()
	if c.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandlerTimeout)
		defer cancel()
	}

	started := time.Now()
	err = c.Dispatch(ctx, job)
	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "ok").Inc()
		return nil
	case pipeline.IsTransient(err) || errors.Is(err, context.DeadlineExceeded):
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "transient").Inc()
		c.log.Warn().Err(err).Str("type", string(job.Type)).
			Str("tenant", job.TenantID).Msg("job failed, redelivering")
		return err
	default:
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "error").Inc()
		c.log.Error().Err(err).Str("type", string(job.Type)).
			Str("tenant", job.TenantID).Msg("job failed terminally")
		return nil
	}
}

// Dispatch routes one decoded job. Exposed for the manual ops trigger.
func (c *Consumer) Dispatch(ctx context.Context, job *pipeline.JobMessage) error {
	switch job.Type {
	case pipeline.JobCheckAcademy, pipeline.JobCheckStudy, pipeline.JobCheckCommute:
		return c.checkCommute(ctx, job)
	case pipeline.JobCheckClass:
		return c.checkClass(ctx, job)
	case pipeline.JobDailyReport:
		return c.dailyReport(ctx, job)
	case pipeline.JobProcessCommuteAbsent:
		return c.processCommuteAbsent(ctx, job)
	case pipeline.JobAssignmentRemind:
		return c.assignmentRemind(ctx, job)
	case pipeline.JobProcessNotificationQueue:
		return c.drainQueue(ctx, job)
	default:
		return pipeline.ErrUnknownJobType
	}
}
