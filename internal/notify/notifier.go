// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package notify orchestrates one notification send: dedup guard,
// template rendering, credit deduction, the guardian message and the
// operator monitor, and the message log row that records the outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goldpen/rollcall/internal/gateway"
	"github.com/goldpen/rollcall/internal/metrics"
	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/pipeline"
	"github.com/goldpen/rollcall/internal/store"
)

// Store is the persistence surface the notifier needs.
type Store interface {
	store.NotificationLogStore
	store.LedgerStore
	store.MessageLogStore
}

// Notification is one send request.
type Notification struct {
	Tenant  models.Tenant
	Student models.Student
	Kind    models.NotificationKind

	// ClassID scopes class notifications; empty otherwise.
	ClassID string

	// Date is the condition date (YYYY-MM-DD) keying the dedup guard.
	Date string

	// OccurredAt is the event time rendered into templates.
	OccurredAt time.Time

	// Vars are extra template variables beyond the standard set.
	Vars map[string]string
}

// Notifier performs sends.
type Notifier struct {
	store    Store
	client   gateway.Client
	monitor  gateway.Monitor
	resolver *gateway.Resolver
	cost     int64
	log      zerolog.Logger
}

// New creates a notifier. cost is the credit charge per send attempt.
func New(s Store, client gateway.Client, monitor gateway.Monitor, resolver *gateway.Resolver, cost int64, log zerolog.Logger) *Notifier {
	return &Notifier{
		store:    s,
		client:   client,
		monitor:  monitor,
		resolver: resolver,
		cost:     cost,
		log:      log.With().Str("component", "notify").Logger(),
	}
}

// Send delivers one notification.
//
// Scheduled kinds (late, absent, daily report) pass through the
// per-condition dedup guard: the first send wins, repeats return
// delivered=false with no side effects. Instant kinds rely on the
// queue entry status machine instead, so a drain retry may charge
// again; charges are per attempt and never refunded.
//
// The credit deduction happens before the provider call. Insufficient
// balance writes a failed message log row and is not an error. The
// operator monitor fires in parallel with the guardian send and is
// never balance-gated. A transport failure after the charge is
// returned as a transient error so the caller can redeliver.
func (n *Notifier) Send(ctx context.Context, actor models.Actor, notif Notification) (bool, error) {
	kind := notif.Kind
	tenant := notif.Tenant
	student := notif.Student

	if !kind.Instant() {
		exists, err := n.store.NotificationExists(ctx, tenant.ID, student.ID, kind, notif.ClassID, notif.Date)
		if err != nil {
			return false, pipeline.Transient(fmt.Errorf("dedup check: %w", err))
		}
		if exists {
			return false, nil
		}
		err = n.store.RecordNotification(ctx, models.NotificationLog{
			ID:        uuid.NewString(),
			TenantID:  tenant.ID,
			StudentID: student.ID,
			Kind:      kind,
			ClassID:   notif.ClassID,
			Date:      notif.Date,
			CreatedAt: time.Now(),
		})
		if errors.Is(err, store.ErrDuplicate) {
			// Lost the race to a concurrent handler; its send stands.
			return false, nil
		}
		if err != nil {
			return false, pipeline.Transient(fmt.Errorf("record guard: %w", err))
		}
	}

	body, err := n.render(ctx, notif)
	if err != nil {
		return false, err
	}

	logRow := models.MessageLog{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		StudentID: student.ID,
		Kind:      kind,
		Recipient: student.GuardianPhone,
		Body:      body,
		Cost:      n.cost,
		CreatedAt: time.Now(),
	}

	// The operator monitor is never balance-gated: it fires in
	// parallel even when the guardian send is refused below.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitorText := fmt.Sprintf("<b>[%s]</b> %s / %s\n%s", tenant.Name, kind, student.Name, body)
		if err := n.monitor.Notify(ctx, monitorText); err != nil {
			n.log.Warn().Err(err).Str("tenant", tenant.ID).Msg("monitor notify failed")
		}
	}()

	if _, err := n.store.CheckAndDeduct(ctx, tenant.ID, n.cost, "notification "+string(kind), actor); err != nil {
		wg.Wait()
		if errors.Is(err, pipeline.ErrInsufficientBalance) {
			metrics.CreditDeductions.WithLabelValues("insufficient").Inc()
			metrics.NotificationsSent.WithLabelValues(string(kind), "failed").Inc()
			logRow.Status = models.MessageFailed
			logRow.FailReason = "insufficient balance"
			logRow.Cost = 0
			if logErr := n.store.RecordMessage(ctx, logRow); logErr != nil {
				n.log.Error().Err(logErr).Str("tenant", tenant.ID).Msg("record failed message log")
			}
			n.log.Warn().Str("tenant", tenant.ID).Str("student", student.ID).
				Str("kind", string(kind)).Msg("send blocked, balance exhausted")
			return false, nil
		}
		return false, pipeline.Transient(fmt.Errorf("deduct credit: %w", err))
	}
	metrics.CreditDeductions.WithLabelValues("ok").Inc()

	start := time.Now()
	result, sendErr := n.client.Send(ctx, gateway.SendRequest{
		TenantID:  tenant.ID,
		StudentID: student.ID,
		Kind:      kind,
		Recipient: student.GuardianPhone,
		Body:      body,
	})
	metrics.GatewayRequestDuration.WithLabelValues("alimtalk").Observe(time.Since(start).Seconds())
	wg.Wait()

	switch {
	case sendErr != nil:
		metrics.NotificationsSent.WithLabelValues(string(kind), "error").Inc()
		logRow.Status = models.MessageFailed
		logRow.FailReason = sendErr.Error()
		if logErr := n.store.RecordMessage(ctx, logRow); logErr != nil {
			n.log.Error().Err(logErr).Str("tenant", tenant.ID).Msg("record failed message log")
		}
		return false, sendErr

	case !result.Delivered:
		metrics.NotificationsSent.WithLabelValues(string(kind), "rejected").Inc()
		logRow.Status = models.MessageFailed
		logRow.FailReason = "provider rejected: " + result.ErrorCode
		if logErr := n.store.RecordMessage(ctx, logRow); logErr != nil {
			n.log.Error().Err(logErr).Str("tenant", tenant.ID).Msg("record failed message log")
		}
		return false, nil

	default:
		metrics.NotificationsSent.WithLabelValues(string(kind), "sent").Inc()
		logRow.Status = models.MessageSent
		logRow.ProviderID = result.ProviderID
		if logErr := n.store.RecordMessage(ctx, logRow); logErr != nil {
			n.log.Error().Err(logErr).Str("tenant", tenant.ID).Msg("record sent message log")
		}
		n.log.Info().Str("tenant", tenant.ID).Str("student", student.ID).
			Str("kind", string(kind)).Bool("noop", result.NoOp).Msg("notification sent")
		return true, nil
	}
}

func (n *Notifier) render(ctx context.Context, notif Notification) (string, error) {
	tpl, err := n.resolver.Resolve(ctx, notif.Tenant.ID, notif.Kind)
	if err != nil {
		return "", pipeline.Transient(fmt.Errorf("resolve template: %w", err))
	}

	vars := map[string]string{
		"tenantName":  notif.Tenant.Name,
		"studentName": notif.Student.Name,
		"date":        notif.Date,
		"time":        notif.OccurredAt.Format("15:04"),
	}
	for k, v := range notif.Vars {
		vars[k] = v
	}
	return gateway.Fill(tpl, vars), nil
}
