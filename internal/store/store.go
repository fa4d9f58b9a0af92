// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package store provides the persistence layer: a PostgreSQL
// implementation backed by pgx, and an in-memory implementation used
// by tests and local development.
package store

import (
	"context"
	"errors"

	"github.com/goldpen/rollcall/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a uniqueness guard rejects a write.
var ErrDuplicate = errors.New("duplicate row")

// ClassMeeting is a class together with its slot for one weekday.
type ClassMeeting struct {
	Class     models.Class
	StartTime string
	EndTime   string
}

// Deduction reports how a successful credit deduction was split.
type Deduction struct {
	FreeUsed int64
	PaidUsed int64
	Balance  models.Balance
}

// TenantStore reads tenant rows. Settings are parsed into the typed
// struct at load.
type TenantStore interface {
	ListActiveTenants(ctx context.Context) ([]models.Tenant, error)
	GetTenant(ctx context.Context, id string) (models.Tenant, error)
}

// StudentStore reads student rows.
type StudentStore interface {
	GetStudent(ctx context.Context, id string) (models.Student, error)
	ListActiveStudents(ctx context.Context, tenantID string) ([]models.Student, error)
}

// PresenceStore persists sessions, sleep and outing records.
type PresenceStore interface {
	// OpenSession returns the open session for a student and date, or
	// ErrNotFound.
	OpenSession(ctx context.Context, tenantID, studentID, date string) (models.PresenceSession, error)
	CreateSession(ctx context.Context, s models.PresenceSession) error
	UpdateSession(ctx context.Context, s models.PresenceSession) error
	ListSessionsForDate(ctx context.Context, tenantID, date string) ([]models.PresenceSession, error)

	// ActiveSleep returns the unfinished sleep record for a session,
	// or ErrNotFound.
	ActiveSleep(ctx context.Context, sessionID string) (models.SleepRecord, error)
	CreateSleep(ctx context.Context, r models.SleepRecord) error
	UpdateSleep(ctx context.Context, r models.SleepRecord) error

	// ActiveOuting returns the unfinished outing record for a session,
	// or ErrNotFound.
	ActiveOuting(ctx context.Context, sessionID string) (models.OutingRecord, error)
	CreateOuting(ctx context.Context, r models.OutingRecord) error
	UpdateOuting(ctx context.Context, r models.OutingRecord) error

	// UpsertSubjectStat accumulates planner time for one subject and
	// date: minutes add up, the completed flag only ever turns on.
	UpsertSubjectStat(ctx context.Context, s models.SubjectStat) error
	ListSubjectStats(ctx context.Context, tenantID, date string) ([]models.SubjectStat, error)
}

// ScheduleStore reads commute schedules.
type ScheduleStore interface {
	ListSchedulesForWeekday(ctx context.Context, tenantID, weekday string) ([]models.CommuteSchedule, error)
}

// ClassStore reads classes, slots and enrollments.
type ClassStore interface {
	ListClassMeetings(ctx context.Context, tenantID, weekday string) ([]ClassMeeting, error)
	ListEnrolledStudents(ctx context.Context, classID string) ([]models.Student, error)
}

// AssignmentDue pairs an unsubmitted assignment with one enrolled
// student it concerns.
type AssignmentDue struct {
	Assignment models.Assignment
	Student    models.Student
}

// AssignmentStore reads homework rows for the reminder sweep.
type AssignmentStore interface {
	// ListAssignmentsDue returns (assignment, student) pairs for active
	// assignments of the tenant due on dueDate where the enrolled
	// student has not submitted.
	ListAssignmentsDue(ctx context.Context, tenantID, dueDate string) ([]AssignmentDue, error)
}

// AttendanceStore persists late/absent marks. Marks only escalate:
// an absent mark is never downgraded back to late.
type AttendanceStore interface {
	GetAttendanceMark(ctx context.Context, tenantID, studentID, classID, date string) (models.AttendanceMark, error)
	UpsertAttendanceMark(ctx context.Context, m models.AttendanceMark) error
}

// NotificationLogStore is the per-condition dedup guard.
type NotificationLogStore interface {
	NotificationExists(ctx context.Context, tenantID, studentID string, kind models.NotificationKind, classID, date string) (bool, error)
	RecordNotification(ctx context.Context, l models.NotificationLog) error
}

// QueueStore persists the instant notification queue rows.
type QueueStore interface {
	EnqueueEntry(ctx context.Context, e models.QueueEntry) error
	// ListPendingEntries returns pending rows across all tenants,
	// oldest first, capped at limit.
	ListPendingEntries(ctx context.Context, limit int) ([]models.QueueEntry, error)
	MarkEntrySent(ctx context.Context, id string) error
	MarkEntryFailed(ctx context.Context, id string) error
	// BumpEntryRetry increments and returns the entry's retry count.
	BumpEntryRetry(ctx context.Context, id string) (int, error)
}

// LedgerStore is the credit ledger. CheckAndDeduct is the only debit
// path and must be atomic per tenant.
type LedgerStore interface {
	// CheckAndDeduct atomically spends amount from the tenant balance,
	// free credit first. It fails with pipeline.ErrInsufficientBalance
	// without any partial spend when free+paid < amount.
	CheckAndDeduct(ctx context.Context, tenantID string, amount int64, description string, actor models.Actor) (Deduction, error)
	Credit(ctx context.Context, tenantID string, amount int64, category models.CreditCategory, description string, actor models.Actor) error
	GetBalance(ctx context.Context, tenantID string) (models.Balance, error)
}

// MessageLogStore records every attempted outbound message.
type MessageLogStore interface {
	RecordMessage(ctx context.Context, l models.MessageLog) error
}

// Store aggregates every repository the pipeline needs.
type Store interface {
	TenantStore
	StudentStore
	PresenceStore
	ScheduleStore
	ClassStore
	AssignmentStore
	AttendanceStore
	NotificationLogStore
	QueueStore
	LedgerStore
	MessageLogStore
}
