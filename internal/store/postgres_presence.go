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
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/goldpen/rollcall/internal/models"
)

// isUniqueViolation reports whether err carries PostgreSQL SQLSTATE
// 23505, a unique constraint rejection.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// OpenSession returns the open session for a student and date.
func (p *Postgres) OpenSession(ctx context.Context, tenantID, studentID, date string) (models.PresenceSession, error) {
	var s models.PresenceSession
	err := p.pool.QueryRow(ctx,
		`SELECT id, tenant_id, student_id, date, check_in_at, check_out_at, duration_minutes, status
		 FROM presence_sessions
		 WHERE tenant_id = $1 AND student_id = $2 AND date = $3 AND check_out_at IS NULL`,
		tenantID, studentID, date).
		Scan(&s.ID, &s.TenantID, &s.StudentID, &s.Date, &s.CheckInAt, &s.CheckOutAt, &s.DurationMinutes, &s.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PresenceSession{}, ErrNotFound
	}
	if err != nil {
		return models.PresenceSession{}, fmt.Errorf("open session: %w", err)
	}
	return s, nil
}

// CreateSession inserts a session row. The partial unique index on
// (student_id, date) rejects a second open session; that rejection
// surfaces as ErrDuplicate so callers treat a lost check-in race the
// same as a pre-checked duplicate.
func (p *Postgres) CreateSession(ctx context.Context, s models.PresenceSession) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO presence_sessions
		 (id, tenant_id, student_id, date, check_in_at, check_out_at, duration_minutes, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.TenantID, s.StudentID, s.Date, s.CheckInAt, s.CheckOutAt, s.DurationMinutes, s.Status)
	if isUniqueViolation(err) {
		return fmt.Errorf("open session for student %s on %s: %w", s.StudentID, s.Date, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateSession rewrites the mutable session fields.
func (p *Postgres) UpdateSession(ctx context.Context, s models.PresenceSession) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE presence_sessions
		 SET check_out_at = $2, duration_minutes = $3, status = $4
		 WHERE id = $1`,
		s.ID, s.CheckOutAt, s.DurationMinutes, s.Status)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

// ListSessionsForDate returns all sessions for a tenant and date.
func (p *Postgres) ListSessionsForDate(ctx context.Context, tenantID, date string) ([]models.PresenceSession, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, tenant_id, student_id, date, check_in_at, check_out_at, duration_minutes, status
		 FROM presence_sessions WHERE tenant_id = $1 AND date = $2`, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.PresenceSession
	for rows.Next() {
		var s models.PresenceSession
		if err := rows.Scan(&s.ID, &s.TenantID, &s.StudentID, &s.Date, &s.CheckInAt,
			&s.CheckOutAt, &s.DurationMinutes, &s.Status); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ActiveSleep returns the unfinished sleep record for a session.
func (p *Postgres) ActiveSleep(ctx context.Context, sessionID string) (models.SleepRecord, error) {
	var r models.SleepRecord
	err := p.pool.QueryRow(ctx,
		`SELECT id, session_id, tenant_id, student_id, start_at, wake_at, duration_minutes
		 FROM sleep_records WHERE session_id = $1 AND wake_at IS NULL`, sessionID).
		Scan(&r.ID, &r.SessionID, &r.TenantID, &r.StudentID, &r.StartAt, &r.WakeAt, &r.DurationMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SleepRecord{}, ErrNotFound
	}
	if err != nil {
		return models.SleepRecord{}, fmt.Errorf("active sleep: %w", err)
	}
	return r, nil
}

// CreateSleep inserts a sleep record.
func (p *Postgres) CreateSleep(ctx context.Context, r models.SleepRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sleep_records (id, session_id, tenant_id, student_id, start_at, wake_at, duration_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.SessionID, r.TenantID, r.StudentID, r.StartAt, r.WakeAt, r.DurationMinutes)
	if err != nil {
		return fmt.Errorf("create sleep: %w", err)
	}
	return nil
}

// UpdateSleep rewrites the mutable sleep fields.
func (p *Postgres) UpdateSleep(ctx context.Context, r models.SleepRecord) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sleep_records SET wake_at = $2, duration_minutes = $3 WHERE id = $1`,
		r.ID, r.WakeAt, r.DurationMinutes)
	if err != nil {
		return fmt.Errorf("update sleep: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sleep %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// ActiveOuting returns the unfinished outing record for a session.
func (p *Postgres) ActiveOuting(ctx context.Context, sessionID string) (models.OutingRecord, error) {
	var r models.OutingRecord
	err := p.pool.QueryRow(ctx,
		`SELECT id, session_id, tenant_id, student_id, reason, start_at, return_at, duration_minutes
		 FROM outing_records WHERE session_id = $1 AND return_at IS NULL`, sessionID).
		Scan(&r.ID, &r.SessionID, &r.TenantID, &r.StudentID, &r.Reason, &r.StartAt, &r.ReturnAt, &r.DurationMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.OutingRecord{}, ErrNotFound
	}
	if err != nil {
		return models.OutingRecord{}, fmt.Errorf("active outing: %w", err)
	}
	return r, nil
}

// CreateOuting inserts an outing record.
func (p *Postgres) CreateOuting(ctx context.Context, r models.OutingRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO outing_records (id, session_id, tenant_id, student_id, reason, start_at, return_at, duration_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.SessionID, r.TenantID, r.StudentID, r.Reason, r.StartAt, r.ReturnAt, r.DurationMinutes)
	if err != nil {
		return fmt.Errorf("create outing: %w", err)
	}
	return nil
}

// UpdateOuting rewrites the mutable outing fields.
func (p *Postgres) UpdateOuting(ctx context.Context, r models.OutingRecord) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE outing_records SET return_at = $2, duration_minutes = $3 WHERE id = $1`,
		r.ID, r.ReturnAt, r.DurationMinutes)
	if err != nil {
		return fmt.Errorf("update outing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outing %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// UpsertSubjectStat accumulates planner time for one subject and date.
// Minutes add up across writes; completed only ever turns on.
func (p *Postgres) UpsertSubjectStat(ctx context.Context, s models.SubjectStat) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO subject_stats (tenant_id, student_id, date, subject, minutes, completed)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, student_id, date, subject) DO UPDATE
		 SET minutes = subject_stats.minutes + EXCLUDED.minutes,
		     completed = subject_stats.completed OR EXCLUDED.completed`,
		s.TenantID, s.StudentID, s.Date, s.Subject, s.Minutes, s.Completed)
	if err != nil {
		return fmt.Errorf("upsert subject stat: %w", err)
	}
	return nil
}

// ListSubjectStats returns the subject rows for a tenant and date.
func (p *Postgres) ListSubjectStats(ctx context.Context, tenantID, date string) ([]models.SubjectStat, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT tenant_id, student_id, date, subject, minutes, completed
		 FROM subject_stats WHERE tenant_id = $1 AND date = $2`, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("list subject stats: %w", err)
	}
	defer rows.Close()

	var stats []models.SubjectStat
	for rows.Next() {
		var s models.SubjectStat
		if err := rows.Scan(&s.TenantID, &s.StudentID, &s.Date, &s.Subject, &s.Minutes, &s.Completed); err != nil {
			return nil, fmt.Errorf("scan subject stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GetAttendanceMark loads a mark, or ErrNotFound.
func (p *Postgres) GetAttendanceMark(ctx context.Context, tenantID, studentID, classID, date string) (models.AttendanceMark, error) {
	var m models.AttendanceMark
	err := p.pool.QueryRow(ctx,
		`SELECT tenant_id, student_id, class_id, date, status, marked_at
		 FROM attendance_marks
		 WHERE tenant_id = $1 AND student_id = $2 AND class_id = $3 AND date = $4`,
		tenantID, studentID, classID, date).
		Scan(&m.TenantID, &m.StudentID, &m.ClassID, &m.Date, &m.Status, &m.MarkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AttendanceMark{}, ErrNotFound
	}
	if err != nil {
		return models.AttendanceMark{}, fmt.Errorf("get attendance mark: %w", err)
	}
	return m, nil
}

// UpsertAttendanceMark inserts or escalates a mark. An existing absent
// mark is never replaced by late.
func (p *Postgres) UpsertAttendanceMark(ctx context.Context, m models.AttendanceMark) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO attendance_marks (tenant_id, student_id, class_id, date, status, marked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, student_id, class_id, date) DO UPDATE
		 SET status = EXCLUDED.status, marked_at = EXCLUDED.marked_at
		 WHERE attendance_marks.status != 'absent'`,
		m.TenantID, m.StudentID, m.ClassID, m.Date, m.Status, m.MarkedAt)
	if err != nil {
		return fmt.Errorf("upsert attendance mark: %w", err)
	}
	return nil
}
