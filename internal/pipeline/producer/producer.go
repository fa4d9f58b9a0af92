// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package producer drives the minute fan-out: every wall-clock minute
// it lists the active tenants and enqueues one job per applicable
// check, plus a single system-wide drain job.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/goldpen/rollcall/internal/clock"
	"github.com/goldpen/rollcall/internal/config"
	"github.com/goldpen/rollcall/internal/metrics"
	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/pipeline"
	"github.com/goldpen/rollcall/internal/store"
)

// Publisher is the queue surface the producer needs.
type Publisher interface {
	PublishBatch(ctx context.Context, topic string, msgs ...*message.Message) error
}

// Producer fans one minute tick out into per-tenant jobs.
type Producer struct {
	tenants    store.TenantStore
	pub        Publisher
	clk        clock.Clock
	serializer *pipeline.Serializer
	cfg        config.ProducerConfig
	subject    string
	log        zerolog.Logger
}

// New creates a producer publishing to the given subject.
func New(tenants store.TenantStore, pub Publisher, clk clock.Clock, cfg config.ProducerConfig, subject string, log zerolog.Logger) *Producer {
	return &Producer{
		tenants:    tenants,
		pub:        pub,
		clk:        clk,
		serializer: pipeline.NewSerializer(),
		cfg:        cfg,
		subject:    subject,
		log:        log.With().Str("component", "producer").Logger(),
	}
}

// Serve runs the minute loop until context cancellation. The first
// tick is aligned to the next minute boundary so jobs carry clean
// HH:MM times.
func (p *Producer) Serve(ctx context.Context) error {
	now := p.clk.Now()
	align := now.Truncate(time.Minute).Add(time.Minute).Sub(now)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(align):
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		if err := p.RunTick(ctx, p.clk.Tick()); err != nil {
			p.log.Error().Err(err).Msg("tick fan-out failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunTick performs one fan-out for the given tick. A tenant listing
// failure aborts the whole tick; a failed publish chunk is logged and
// the remaining chunks still go out. Re-running a tick is safe, the
// broker dedups on the job key and every handler is idempotent.
func (p *Producer) RunTick(ctx context.Context, tick clock.Tick) error {
	started := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(started).Seconds())
	}()

	tenants, err := p.tenants.ListActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("list active tenants: %w", err)
	}

	var jobs []pipeline.JobMessage
	for _, tenant := range tenants {
		jobs = append(jobs, p.tenantJobs(tenant, tick)...)
	}
	jobs = append(jobs, pipeline.NewSystemJobMessage(pipeline.JobProcessNotificationQueue, tick))

	msgs := make([]*message.Message, 0, len(jobs))
	for i := range jobs {
		payload, err := p.serializer.Marshal(&jobs[i])
		if err != nil {
			p.log.Error().Err(err).Str("type", string(jobs[i].Type)).Msg("drop malformed job")
			continue
		}
		msgs = append(msgs, message.NewMessage(jobs[i].Key(), payload))
		metrics.JobsEnqueued.WithLabelValues(string(jobs[i].Type)).Inc()
	}

	for start := 0; start < len(msgs); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		if err := p.pub.PublishBatch(ctx, p.subject, msgs[start:end]...); err != nil {
			metrics.EnqueueBatchFailures.Inc()
			p.log.Error().Err(err).Int("chunk_start", start).Msg("publish chunk failed")
		}
	}

	p.log.Debug().Str("minute", tick.HHMM).Int("tenants", len(tenants)).
		Int("jobs", len(msgs)).Msg("tick fan-out complete")
	return nil
}

// tenantJobs decides which checks apply to one tenant at one tick.
// Class and commute checks run for every tenant type. The daily report
// and the end-of-day commute finalization match against the tenant's
// own zone when it overrides the deployment zone.
func (p *Producer) tenantJobs(tenant models.Tenant, tick clock.Tick) []pipeline.JobMessage {
	jobs := []pipeline.JobMessage{
		pipeline.NewJobMessage(pipeline.JobCheckClass, tenant, tick),
		pipeline.NewJobMessage(pipeline.JobCheckCommute, tenant, tick),
	}
	if tenant.Type.HasAcademyChecks() {
		jobs = append(jobs, pipeline.NewJobMessage(pipeline.JobCheckAcademy, tenant, tick))
	}
	if tenant.Type.HasStudyChecks() {
		jobs = append(jobs, pipeline.NewJobMessage(pipeline.JobCheckStudy, tenant, tick))
	}

	local := p.tenantTick(tenant, tick)
	if tenant.Settings.DailyReportTime == local.HHMM {
		jobs = append(jobs, pipeline.NewJobMessage(pipeline.JobDailyReport, tenant, local))
	}
	if tenant.Type.HasStudyChecks() && p.cfg.CommuteFinalizeTime == local.HHMM {
		jobs = append(jobs, pipeline.NewJobMessage(pipeline.JobProcessCommuteAbsent, tenant, local))
	}
	if tenant.Type.HasAcademyChecks() && p.cfg.AssignmentRemindTime == local.HHMM {
		jobs = append(jobs, pipeline.NewJobMessage(pipeline.JobAssignmentRemind, tenant, local))
	}
	return jobs
}

func (p *Producer) tenantTick(tenant models.Tenant, tick clock.Tick) clock.Tick {
	tz := tenant.Settings.Timezone
	if tz == "" {
		return tick
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		p.log.Warn().Str("tenant", tenant.ID).Str("timezone", tz).
			Msg("invalid tenant timezone, using deployment zone")
		return tick
	}
	return clock.TickAt(tick.At.In(loc))
}
