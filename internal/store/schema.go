// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package store

import (
	"context"
	"fmt"
)

// schema is applied idempotently at startup when database.migrate is
// enabled. Balances live on the tenant row so CheckAndDeduct can lock
// one row per tenant.
const schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    type            TEXT NOT NULL,
    active          BOOLEAN NOT NULL DEFAULT TRUE,
    settings        JSONB NOT NULL DEFAULT '{}',
    credit_free     BIGINT NOT NULL DEFAULT 0,
    credit_paid     BIGINT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS students (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL REFERENCES tenants(id),
    name            TEXT NOT NULL,
    guardian_phone  TEXT NOT NULL DEFAULT '',
    active          BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_students_tenant ON students(tenant_id) WHERE active;

CREATE TABLE IF NOT EXISTS presence_sessions (
    id               TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL REFERENCES tenants(id),
    student_id       TEXT NOT NULL REFERENCES students(id),
    date             TEXT NOT NULL,
    check_in_at      TIMESTAMPTZ NOT NULL,
    check_out_at     TIMESTAMPTZ,
    duration_minutes INT NOT NULL DEFAULT 0,
    status           TEXT NOT NULL DEFAULT 'attending'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open
    ON presence_sessions(student_id, date) WHERE check_out_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_sessions_tenant_date ON presence_sessions(tenant_id, date);

CREATE TABLE IF NOT EXISTS sleep_records (
    id               TEXT PRIMARY KEY,
    session_id       TEXT NOT NULL REFERENCES presence_sessions(id),
    tenant_id        TEXT NOT NULL,
    student_id       TEXT NOT NULL,
    start_at         TIMESTAMPTZ NOT NULL,
    wake_at          TIMESTAMPTZ,
    duration_minutes INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sleep_session ON sleep_records(session_id) WHERE wake_at IS NULL;

CREATE TABLE IF NOT EXISTS outing_records (
    id               TEXT PRIMARY KEY,
    session_id       TEXT NOT NULL REFERENCES presence_sessions(id),
    tenant_id        TEXT NOT NULL,
    student_id       TEXT NOT NULL,
    reason           TEXT NOT NULL DEFAULT '',
    start_at         TIMESTAMPTZ NOT NULL,
    return_at        TIMESTAMPTZ,
    duration_minutes INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_outing_session ON outing_records(session_id) WHERE return_at IS NULL;

CREATE TABLE IF NOT EXISTS subject_stats (
    tenant_id  TEXT NOT NULL,
    student_id TEXT NOT NULL,
    date       TEXT NOT NULL,
    subject    TEXT NOT NULL,
    minutes    INT NOT NULL DEFAULT 0,
    completed  BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (tenant_id, student_id, date, subject)
);
CREATE INDEX IF NOT EXISTS idx_subject_stats_date ON subject_stats(tenant_id, date);

CREATE TABLE IF NOT EXISTS commute_schedules (
    id             TEXT PRIMARY KEY,
    tenant_id      TEXT NOT NULL REFERENCES tenants(id),
    student_id     TEXT NOT NULL REFERENCES students(id),
    weekday        TEXT NOT NULL,
    check_in_time  TEXT NOT NULL,
    check_out_time TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_schedules_tenant_weekday ON commute_schedules(tenant_id, weekday);

CREATE TABLE IF NOT EXISTS classes (
    id        TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL REFERENCES tenants(id),
    name      TEXT NOT NULL,
    active    BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS class_slots (
    class_id   TEXT NOT NULL REFERENCES classes(id),
    weekday    TEXT NOT NULL,
    start_time TEXT NOT NULL,
    end_time   TEXT NOT NULL,
    PRIMARY KEY (class_id, weekday, start_time)
);

CREATE TABLE IF NOT EXISTS enrollments (
    class_id   TEXT NOT NULL REFERENCES classes(id),
    student_id TEXT NOT NULL REFERENCES students(id),
    PRIMARY KEY (class_id, student_id)
);

CREATE TABLE IF NOT EXISTS assignments (
    id        TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL REFERENCES tenants(id),
    class_id  TEXT NOT NULL REFERENCES classes(id),
    title     TEXT NOT NULL,
    due_date  TEXT NOT NULL,
    active    BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_assignments_due ON assignments(tenant_id, due_date) WHERE active;

CREATE TABLE IF NOT EXISTS assignment_submissions (
    assignment_id TEXT NOT NULL REFERENCES assignments(id),
    student_id    TEXT NOT NULL REFERENCES students(id),
    submitted_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (assignment_id, student_id)
);

CREATE TABLE IF NOT EXISTS attendance_marks (
    tenant_id  TEXT NOT NULL,
    student_id TEXT NOT NULL,
    class_id   TEXT NOT NULL DEFAULT '',
    date       TEXT NOT NULL,
    status     TEXT NOT NULL,
    marked_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, student_id, class_id, date)
);

CREATE TABLE IF NOT EXISTS notification_logs (
    id         TEXT PRIMARY KEY,
    tenant_id  TEXT NOT NULL,
    student_id TEXT NOT NULL,
    kind       TEXT NOT NULL,
    class_id   TEXT NOT NULL DEFAULT '',
    date       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (tenant_id, student_id, kind, class_id, date)
);

CREATE TABLE IF NOT EXISTS notification_queue (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    student_id  TEXT NOT NULL,
    kind        TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending',
    retry_count INT NOT NULL DEFAULT 0,
    occurred_at TIMESTAMPTZ NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_queue_pending ON notification_queue(created_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS credit_transactions (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL REFERENCES tenants(id),
    amount        BIGINT NOT NULL,
    category      TEXT NOT NULL,
    balance_after BIGINT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    actor         TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_credit_tenant ON credit_transactions(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS message_logs (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    student_id  TEXT NOT NULL,
    kind        TEXT NOT NULL,
    recipient   TEXT NOT NULL DEFAULT '',
    body        TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    provider_id TEXT NOT NULL DEFAULT '',
    fail_reason TEXT NOT NULL DEFAULT '',
    cost        BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_tenant ON message_logs(tenant_id, created_at);
`

// Migrate applies the schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
