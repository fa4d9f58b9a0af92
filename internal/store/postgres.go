// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goldpen/rollcall/internal/models"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Options tunes the connection pool.
type Options struct {
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string, opts Options) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = opts.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// Ping verifies database connectivity, for health checks.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// ListActiveTenants returns active tenants with settings parsed.
func (p *Postgres) ListActiveTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, type, active, settings FROM tenants WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// GetTenant loads one tenant with settings parsed.
func (p *Postgres) GetTenant(ctx context.Context, id string) (models.Tenant, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, name, type, active, settings FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Tenant{}, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	return t, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (models.Tenant, error) {
	var (
		t   models.Tenant
		raw []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Type, &t.Active, &raw); err != nil {
		return models.Tenant{}, err
	}
	settings, err := models.ParseTenantSettings(raw)
	if err != nil {
		return models.Tenant{}, fmt.Errorf("tenant %s: %w", t.ID, err)
	}
	t.Settings = settings
	return t, nil
}

// GetStudent loads one student.
func (p *Postgres) GetStudent(ctx context.Context, id string) (models.Student, error) {
	var s models.Student
	err := p.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, guardian_phone, active FROM students WHERE id = $1`, id).
		Scan(&s.ID, &s.TenantID, &s.Name, &s.GuardianPhone, &s.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Student{}, fmt.Errorf("student %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Student{}, fmt.Errorf("get student: %w", err)
	}
	return s, nil
}

// ListActiveStudents returns a tenant's active students.
func (p *Postgres) ListActiveStudents(ctx context.Context, tenantID string) ([]models.Student, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, tenant_id, name, guardian_phone, active
		 FROM students WHERE tenant_id = $1 AND active ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		var s models.Student
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Name, &s.GuardianPhone, &s.Active); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// ListSchedulesForWeekday returns the tenant's commute schedules for a
// weekday.
func (p *Postgres) ListSchedulesForWeekday(ctx context.Context, tenantID, weekday string) ([]models.CommuteSchedule, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, tenant_id, student_id, weekday, check_in_time, check_out_time
		 FROM commute_schedules WHERE tenant_id = $1 AND weekday = $2`, tenantID, weekday)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.CommuteSchedule
	for rows.Next() {
		var s models.CommuteSchedule
		if err := rows.Scan(&s.ID, &s.TenantID, &s.StudentID, &s.Weekday, &s.CheckInTime, &s.CheckOutTime); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// ListClassMeetings returns active classes with a slot on the weekday.
func (p *Postgres) ListClassMeetings(ctx context.Context, tenantID, weekday string) ([]ClassMeeting, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT c.id, c.tenant_id, c.name, c.active, s.start_time, s.end_time
		 FROM classes c JOIN class_slots s ON s.class_id = c.id
		 WHERE c.tenant_id = $1 AND c.active AND s.weekday = $2`, tenantID, weekday)
	if err != nil {
		return nil, fmt.Errorf("list class meetings: %w", err)
	}
	defer rows.Close()

	var meetings []ClassMeeting
	for rows.Next() {
		var m ClassMeeting
		if err := rows.Scan(&m.Class.ID, &m.Class.TenantID, &m.Class.Name, &m.Class.Active,
			&m.StartTime, &m.EndTime); err != nil {
			return nil, fmt.Errorf("scan class meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// ListEnrolledStudents returns a class's active students.
func (p *Postgres) ListEnrolledStudents(ctx context.Context, classID string) ([]models.Student, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT st.id, st.tenant_id, st.name, st.guardian_phone, st.active
		 FROM enrollments e JOIN students st ON st.id = e.student_id
		 WHERE e.class_id = $1 AND st.active`, classID)
	if err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		var s models.Student
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Name, &s.GuardianPhone, &s.Active); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, s)
	}
	return students, rows.Err()
}
