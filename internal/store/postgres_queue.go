// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/goldpen/rollcall/internal/models"
)

// EnqueueEntry inserts an instant notification row.
func (p *Postgres) EnqueueEntry(ctx context.Context, e models.QueueEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO notification_queue (id, tenant_id, student_id, kind, reason, status, retry_count, occurred_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TenantID, e.StudentID, e.Kind, e.Reason, e.Status, e.RetryCount, e.OccurredAt, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue entry: %w", err)
	}
	return nil
}

// ListPendingEntries returns pending rows oldest first.
func (p *Postgres) ListPendingEntries(ctx context.Context, limit int) ([]models.QueueEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, tenant_id, student_id, kind, reason, status, retry_count, occurred_at, created_at
		 FROM notification_queue WHERE status = 'pending'
		 ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.StudentID, &e.Kind, &e.Reason, &e.Status,
			&e.RetryCount, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkEntrySent transitions a pending entry to sent. Already-sent
// entries are left alone so concurrent drains stay safe.
func (p *Postgres) MarkEntrySent(ctx context.Context, id string) error {
	return p.setEntryStatus(ctx, id, models.QueueEntrySent)
}

// MarkEntryFailed transitions a pending entry to failed.
func (p *Postgres) MarkEntryFailed(ctx context.Context, id string) error {
	return p.setEntryStatus(ctx, id, models.QueueEntryFailed)
}

func (p *Postgres) setEntryStatus(ctx context.Context, id string, status models.QueueEntryStatus) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE notification_queue SET status = $2 WHERE id = $1 AND status = 'pending'`,
		id, status)
	if err != nil {
		return fmt.Errorf("set entry status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue entry %s not pending: %w", id, ErrNotFound)
	}
	return nil
}

// BumpEntryRetry increments and returns the entry's retry count.
func (p *Postgres) BumpEntryRetry(ctx context.Context, id string) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`UPDATE notification_queue SET retry_count = retry_count + 1
		 WHERE id = $1 RETURNING retry_count`, id).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("queue entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("bump entry retry: %w", err)
	}
	return count, nil
}

// RecordMessage appends a message log row.
func (p *Postgres) RecordMessage(ctx context.Context, l models.MessageLog) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO message_logs (id, tenant_id, student_id, kind, recipient, body, status, provider_id, fail_reason, cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID, l.TenantID, l.StudentID, l.Kind, l.Recipient, l.Body, l.Status,
		l.ProviderID, l.FailReason, l.Cost, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// NotificationExists reports whether the dedup guard row exists.
func (p *Postgres) NotificationExists(ctx context.Context, tenantID, studentID string, kind models.NotificationKind, classID, date string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM notification_logs
		   WHERE tenant_id = $1 AND student_id = $2 AND kind = $3 AND class_id = $4 AND date = $5
		 )`, tenantID, studentID, kind, classID, date).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("notification exists: %w", err)
	}
	return exists, nil
}

// RecordNotification inserts the dedup guard row. A concurrent
// duplicate trips the unique constraint and reports ErrDuplicate.
func (p *Postgres) RecordNotification(ctx context.Context, l models.NotificationLog) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO notification_logs (id, tenant_id, student_id, kind, class_id, date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, student_id, kind, class_id, date) DO NOTHING`,
		l.ID, l.TenantID, l.StudentID, l.Kind, l.ClassID, l.Date, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}
