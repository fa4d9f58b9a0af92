// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package models defines the domain types shared across the pipeline:
// tenants, presence sessions, commute schedules, notification queue
// entries, credit ledger entries and message logs.
package models

import "time"

// TenantType classifies how a tenant uses the platform. It controls
// which scheduled check jobs the producer emits for the tenant.
type TenantType string

const (
	TenantAcademy   TenantType = "academy"
	TenantStudyRoom TenantType = "study_room"
	TenantHybrid    TenantType = "hybrid"
)

// Valid reports whether t is a known tenant type.
func (t TenantType) Valid() bool {
	switch t {
	case TenantAcademy, TenantStudyRoom, TenantHybrid:
		return true
	}
	return false
}

// HasAcademyChecks reports whether academy-style class checks apply.
func (t TenantType) HasAcademyChecks() bool {
	return t == TenantAcademy || t == TenantHybrid
}

// HasStudyChecks reports whether study-room seat checks apply.
func (t TenantType) HasStudyChecks() bool {
	return t == TenantStudyRoom || t == TenantHybrid
}

// Tenant is an academy or study room. Settings are parsed once when the
// tenant row is loaded; raw JSON never travels past the store layer.
type Tenant struct {
	ID       string
	Name     string
	Type     TenantType
	Active   bool
	Settings TenantSettings
}

// Student is a notification recipient's subject. GuardianPhone is the
// destination for templated business messages.
type Student struct {
	ID            string
	TenantID      string
	Name          string
	GuardianPhone string
	Active        bool
}

// SessionStatus tracks a presence session through its lifecycle.
type SessionStatus string

const (
	SessionAttending SessionStatus = "attending"
	SessionCompleted SessionStatus = "completed"
	SessionAbsent    SessionStatus = "absent"
)

// PresenceSession is one student's presence for one date. At most one
// open (CheckOutAt == nil) session exists per student and date.
type PresenceSession struct {
	ID              string
	TenantID        string
	StudentID       string
	Date            string // YYYY-MM-DD in the tenant zone
	CheckInAt       time.Time
	CheckOutAt      *time.Time
	DurationMinutes int
	Status          SessionStatus
}

// Open reports whether the session has not been checked out.
func (s PresenceSession) Open() bool {
	return s.CheckOutAt == nil && s.Status == SessionAttending
}

// SleepRecord tracks a sleep interval inside an open session.
type SleepRecord struct {
	ID              string
	SessionID       string
	TenantID        string
	StudentID       string
	StartAt         time.Time
	WakeAt          *time.Time
	DurationMinutes int
}

// Active reports whether the student is still sleeping.
func (r SleepRecord) Active() bool { return r.WakeAt == nil }

// OutingRecord tracks a temporary leave interval inside an open session.
type OutingRecord struct {
	ID              string
	SessionID       string
	TenantID        string
	StudentID       string
	Reason          string
	StartAt         time.Time
	ReturnAt        *time.Time
	DurationMinutes int
}

// Active reports whether the student has not yet returned.
func (r OutingRecord) Active() bool { return r.ReturnAt == nil }

// CommuteSchedule is a student's expected in/out time for one weekday.
// Times are "HH:MM" in the tenant zone. CheckOutTime may be empty, in
// which case absence falls back to CheckInTime plus a fixed window.
type CommuteSchedule struct {
	ID           string
	TenantID     string
	StudentID    string
	Weekday      string // lowercase English weekday name
	CheckInTime  string
	CheckOutTime string
}

// Class is a recurring academy class.
type Class struct {
	ID       string
	TenantID string
	Name     string
	Active   bool
}

// ClassSlot is one weekday time slot of a class.
type ClassSlot struct {
	ClassID   string
	Weekday   string
	StartTime string // HH:MM
	EndTime   string // HH:MM
}

// Enrollment links a student to a class.
type Enrollment struct {
	ClassID   string
	StudentID string
}

// AttendanceStatus is the resolved state of a student for a date and,
// for academy tenants, a class.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceAbsent  AttendanceStatus = "absent"
)

// AttendanceMark records a late/absent determination. ClassID is empty
// for commute (whole-day) marks. Marks are upserted: a late mark may be
// upgraded to absent, never downgraded.
type AttendanceMark struct {
	TenantID  string
	StudentID string
	ClassID   string
	Date      string
	Status    AttendanceStatus
	MarkedAt  time.Time
}

// SubjectStat is one student's accumulated planner time for a subject
// and date. Rows are written by the planner surface as timers stop and
// read back by the daily report.
type SubjectStat struct {
	TenantID  string
	StudentID string
	Date      string // YYYY-MM-DD in the tenant zone
	Subject   string
	Minutes   int
	Completed bool
}

// Assignment is a class homework item with a due date. Reminders go
// out the day before the due date to students who have not submitted.
type Assignment struct {
	ID       string
	TenantID string
	ClassID  string
	Title    string
	DueDate  string // YYYY-MM-DD
	Active   bool
}

// QueueEntryStatus tracks an instant notification row.
type QueueEntryStatus string

const (
	QueueEntryPending QueueEntryStatus = "pending"
	QueueEntrySent    QueueEntryStatus = "sent"
	QueueEntryFailed  QueueEntryStatus = "failed"
)

// MaxQueueEntryRetries is the retry budget for one queue entry. The
// drain job marks the entry failed once the budget is exhausted.
const MaxQueueEntryRetries = 5

// QueueEntry is a row in the instant notification queue, written by the
// presence state machine and drained once per minute.
type QueueEntry struct {
	ID        string
	TenantID  string
	StudentID string
	Kind      NotificationKind

	// Reason carries the outing reason for outing entries; empty for
	// other kinds.
	Reason     string
	Status     QueueEntryStatus
	RetryCount int
	OccurredAt time.Time
	CreatedAt  time.Time
}

// CreditCategory splits tenant balances into promotional and purchased
// credit. Free credit is always consumed before paid credit.
type CreditCategory string

const (
	CreditFree CreditCategory = "free"
	CreditPaid CreditCategory = "paid"
)

// LedgerEntry is one append-only credit movement. Amount is negative
// for deductions. BalanceAfter is the tenant's total balance after the
// movement, recorded for audit.
type LedgerEntry struct {
	ID           string
	TenantID     string
	Amount       int64
	Category     CreditCategory
	BalanceAfter int64
	Description  string
	Actor        Actor
	CreatedAt    time.Time
}

// Balance is a tenant's current credit split.
type Balance struct {
	Free int64
	Paid int64
}

// Total returns free plus paid credit.
func (b Balance) Total() int64 { return b.Free + b.Paid }

// MessageStatus is the terminal state of one send attempt.
type MessageStatus string

const (
	MessageSent   MessageStatus = "sent"
	MessageFailed MessageStatus = "failed"
)

// MessageLog records one attempted outbound message, successful or not.
// A failed row still carries the rendered body for operator triage.
type MessageLog struct {
	ID         string
	TenantID   string
	StudentID  string
	Kind       NotificationKind
	Recipient  string
	Body       string
	Status     MessageStatus
	ProviderID string
	FailReason string
	Cost       int64
	CreatedAt  time.Time
}

// NotificationLog is the exactly-once guard: one row per delivered
// notification condition. ClassID is empty for non-class kinds.
type NotificationLog struct {
	ID        string
	TenantID  string
	StudentID string
	Kind      NotificationKind
	ClassID   string
	Date      string
	CreatedAt time.Time
}
