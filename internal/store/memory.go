// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/pipeline"
)

// Memory implements Store in process memory. It backs package tests
// and local development, with the same semantics as the Postgres
// implementation: one open session per student and date, escalate-only
// attendance marks, free-before-paid deductions that never go
// negative.
type Memory struct {
	mu sync.Mutex

	tenants       map[string]models.Tenant
	balances      map[string]models.Balance
	students      map[string]models.Student
	sessions      map[string]models.PresenceSession
	sleeps        map[string]models.SleepRecord
	outings       map[string]models.OutingRecord
	schedules     []models.CommuteSchedule
	classes       map[string]models.Class
	slots         []models.ClassSlot
	enrollments   []models.Enrollment
	subjectStats  map[string]models.SubjectStat
	assignments   map[string]models.Assignment
	submissions   map[string]bool
	marks         map[string]models.AttendanceMark
	notifications map[string]models.NotificationLog
	queue         map[string]models.QueueEntry
	ledger        []models.LedgerEntry
	messages      []models.MessageLog
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tenants:       map[string]models.Tenant{},
		balances:      map[string]models.Balance{},
		students:      map[string]models.Student{},
		sessions:      map[string]models.PresenceSession{},
		sleeps:        map[string]models.SleepRecord{},
		outings:       map[string]models.OutingRecord{},
		classes:       map[string]models.Class{},
		subjectStats:  map[string]models.SubjectStat{},
		assignments:   map[string]models.Assignment{},
		submissions:   map[string]bool{},
		marks:         map[string]models.AttendanceMark{},
		notifications: map[string]models.NotificationLog{},
		queue:         map[string]models.QueueEntry{},
	}
}

// Seed helpers for tests.

// AddTenant registers a tenant with a starting balance.
func (m *Memory) AddTenant(t models.Tenant, balance models.Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
	m.balances[t.ID] = balance
}

// AddStudent registers a student.
func (m *Memory) AddStudent(s models.Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
}

// AddSchedule registers a commute schedule.
func (m *Memory) AddSchedule(s models.CommuteSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.schedules = append(m.schedules, s)
}

// AddClass registers a class with its slots and enrolled students.
func (m *Memory) AddClass(c models.Class, slots []models.ClassSlot, studentIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[c.ID] = c
	m.slots = append(m.slots, slots...)
	for _, id := range studentIDs {
		m.enrollments = append(m.enrollments, models.Enrollment{ClassID: c.ID, StudentID: id})
	}
}

// AddAssignment registers a homework item.
func (m *Memory) AddAssignment(a models.Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = a
}

// AddSubmission records that a student submitted an assignment.
func (m *Memory) AddSubmission(assignmentID, studentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[assignmentID+"|"+studentID] = true
}

// Messages returns a copy of the recorded message logs.
func (m *Memory) Messages() []models.MessageLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.MessageLog, len(m.messages))
	copy(out, m.messages)
	return out
}

// Ledger returns a copy of the ledger entries.
func (m *Memory) Ledger() []models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.LedgerEntry, len(m.ledger))
	copy(out, m.ledger)
	return out
}

// Entry returns a queue entry by ID.
func (m *Memory) Entry(id string) (models.QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.queue[id]
	return e, ok
}

// TenantStore

func (m *Memory) ListActiveTenants(_ context.Context) ([]models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Tenant
	for _, t := range m.tenants {
		if t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetTenant(_ context.Context, id string) (models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return models.Tenant{}, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// StudentStore

func (m *Memory) GetStudent(_ context.Context, id string) (models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return models.Student{}, fmt.Errorf("student %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *Memory) ListActiveStudents(_ context.Context, tenantID string) ([]models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Student
	for _, s := range m.students {
		if s.TenantID == tenantID && s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PresenceStore

func (m *Memory) OpenSession(_ context.Context, tenantID, studentID, date string) (models.PresenceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.StudentID == studentID && s.Date == date && s.CheckOutAt == nil {
			return s, nil
		}
	}
	return models.PresenceSession{}, ErrNotFound
}

func (m *Memory) CreateSession(_ context.Context, s models.PresenceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CheckOutAt == nil {
		for _, existing := range m.sessions {
			if existing.StudentID == s.StudentID && existing.Date == s.Date && existing.CheckOutAt == nil {
				return fmt.Errorf("open session for student %s on %s: %w", s.StudentID, s.Date, ErrDuplicate)
			}
		}
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s models.PresenceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) ListSessionsForDate(_ context.Context, tenantID, date string) ([]models.PresenceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PresenceSession
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.Date == date {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ActiveSleep(_ context.Context, sessionID string) (models.SleepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.sleeps {
		if r.SessionID == sessionID && r.WakeAt == nil {
			return r, nil
		}
	}
	return models.SleepRecord{}, ErrNotFound
}

func (m *Memory) CreateSleep(_ context.Context, r models.SleepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleeps[r.ID] = r
	return nil
}

func (m *Memory) UpdateSleep(_ context.Context, r models.SleepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sleeps[r.ID]; !ok {
		return fmt.Errorf("sleep %s: %w", r.ID, ErrNotFound)
	}
	m.sleeps[r.ID] = r
	return nil
}

func (m *Memory) ActiveOuting(_ context.Context, sessionID string) (models.OutingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.outings {
		if r.SessionID == sessionID && r.ReturnAt == nil {
			return r, nil
		}
	}
	return models.OutingRecord{}, ErrNotFound
}

func (m *Memory) CreateOuting(_ context.Context, r models.OutingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outings[r.ID] = r
	return nil
}

func (m *Memory) UpdateOuting(_ context.Context, r models.OutingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outings[r.ID]; !ok {
		return fmt.Errorf("outing %s: %w", r.ID, ErrNotFound)
	}
	m.outings[r.ID] = r
	return nil
}

func subjectKey(tenantID, studentID, date, subject string) string {
	return tenantID + "|" + studentID + "|" + date + "|" + subject
}

func (m *Memory) UpsertSubjectStat(_ context.Context, s models.SubjectStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subjectKey(s.TenantID, s.StudentID, s.Date, s.Subject)
	if existing, ok := m.subjectStats[key]; ok {
		existing.Minutes += s.Minutes
		existing.Completed = existing.Completed || s.Completed
		m.subjectStats[key] = existing
		return nil
	}
	m.subjectStats[key] = s
	return nil
}

func (m *Memory) ListSubjectStats(_ context.Context, tenantID, date string) ([]models.SubjectStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SubjectStat
	for _, s := range m.subjectStats {
		if s.TenantID == tenantID && s.Date == date {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].Subject < out[j].Subject
	})
	return out, nil
}

// ScheduleStore

func (m *Memory) ListSchedulesForWeekday(_ context.Context, tenantID, weekday string) ([]models.CommuteSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommuteSchedule
	for _, s := range m.schedules {
		if s.TenantID == tenantID && s.Weekday == weekday {
			out = append(out, s)
		}
	}
	return out, nil
}

// ClassStore

func (m *Memory) ListClassMeetings(_ context.Context, tenantID, weekday string) ([]ClassMeeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ClassMeeting
	for _, slot := range m.slots {
		c, ok := m.classes[slot.ClassID]
		if !ok || c.TenantID != tenantID || !c.Active || slot.Weekday != weekday {
			continue
		}
		out = append(out, ClassMeeting{Class: c, StartTime: slot.StartTime, EndTime: slot.EndTime})
	}
	return out, nil
}

func (m *Memory) ListEnrolledStudents(_ context.Context, classID string) ([]models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Student
	for _, e := range m.enrollments {
		if e.ClassID != classID {
			continue
		}
		if s, ok := m.students[e.StudentID]; ok && s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

// AssignmentStore

func (m *Memory) ListAssignmentsDue(_ context.Context, tenantID, dueDate string) ([]AssignmentDue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AssignmentDue
	for _, a := range m.assignments {
		if a.TenantID != tenantID || a.DueDate != dueDate || !a.Active {
			continue
		}
		for _, e := range m.enrollments {
			if e.ClassID != a.ClassID || m.submissions[a.ID+"|"+e.StudentID] {
				continue
			}
			if s, ok := m.students[e.StudentID]; ok && s.Active {
				out = append(out, AssignmentDue{Assignment: a, Student: s})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Assignment.ID != out[j].Assignment.ID {
			return out[i].Assignment.ID < out[j].Assignment.ID
		}
		return out[i].Student.ID < out[j].Student.ID
	})
	return out, nil
}

// AttendanceStore

func markKey(tenantID, studentID, classID, date string) string {
	return tenantID + "|" + studentID + "|" + classID + "|" + date
}

func (m *Memory) GetAttendanceMark(_ context.Context, tenantID, studentID, classID, date string) (models.AttendanceMark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mark, ok := m.marks[markKey(tenantID, studentID, classID, date)]
	if !ok {
		return models.AttendanceMark{}, ErrNotFound
	}
	return mark, nil
}

func (m *Memory) UpsertAttendanceMark(_ context.Context, mark models.AttendanceMark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := markKey(mark.TenantID, mark.StudentID, mark.ClassID, mark.Date)
	if existing, ok := m.marks[key]; ok && existing.Status == models.AttendanceAbsent {
		return nil
	}
	m.marks[key] = mark
	return nil
}

// NotificationLogStore

func notifKey(tenantID, studentID string, kind models.NotificationKind, classID, date string) string {
	return tenantID + "|" + studentID + "|" + string(kind) + "|" + classID + "|" + date
}

func (m *Memory) NotificationExists(_ context.Context, tenantID, studentID string, kind models.NotificationKind, classID, date string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.notifications[notifKey(tenantID, studentID, kind, classID, date)]
	return ok, nil
}

func (m *Memory) RecordNotification(_ context.Context, l models.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := notifKey(l.TenantID, l.StudentID, l.Kind, l.ClassID, l.Date)
	if _, ok := m.notifications[key]; ok {
		return ErrDuplicate
	}
	m.notifications[key] = l
	return nil
}

// QueueStore

func (m *Memory) EnqueueEntry(_ context.Context, e models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue[e.ID] = e
	return nil
}

func (m *Memory) ListPendingEntries(_ context.Context, limit int) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.QueueEntry
	for _, e := range m.queue {
		if e.Status == models.QueueEntryPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkEntrySent(_ context.Context, id string) error {
	return m.setEntryStatus(id, models.QueueEntrySent)
}

func (m *Memory) MarkEntryFailed(_ context.Context, id string) error {
	return m.setEntryStatus(id, models.QueueEntryFailed)
}

func (m *Memory) setEntryStatus(id string, status models.QueueEntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.queue[id]
	if !ok || e.Status != models.QueueEntryPending {
		return fmt.Errorf("queue entry %s not pending: %w", id, ErrNotFound)
	}
	e.Status = status
	m.queue[id] = e
	return nil
}

func (m *Memory) BumpEntryRetry(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.queue[id]
	if !ok {
		return 0, fmt.Errorf("queue entry %s: %w", id, ErrNotFound)
	}
	e.RetryCount++
	m.queue[id] = e
	return e.RetryCount, nil
}

// LedgerStore

func (m *Memory) CheckAndDeduct(_ context.Context, tenantID string, amount int64, description string, actor models.Actor) (Deduction, error) {
	if amount < 0 {
		return Deduction{}, fmt.Errorf("deduct amount %d is negative", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.balances[tenantID]
	if !ok {
		return Deduction{}, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	if b.Total() < amount {
		return Deduction{}, fmt.Errorf("tenant %s needs %d, has %d: %w",
			tenantID, amount, b.Total(), pipeline.ErrInsufficientBalance)
	}

	freeUsed := amount
	if freeUsed > b.Free {
		freeUsed = b.Free
	}
	paidUsed := amount - freeUsed

	b.Free -= freeUsed
	b.Paid -= paidUsed
	m.balances[tenantID] = b

	now := time.Now()
	if freeUsed > 0 {
		m.ledger = append(m.ledger, models.LedgerEntry{
			ID: uuid.NewString(), TenantID: tenantID, Amount: -freeUsed,
			Category: models.CreditFree, BalanceAfter: b.Total(),
			Description: description, Actor: actor, CreatedAt: now,
		})
	}
	if paidUsed > 0 {
		m.ledger = append(m.ledger, models.LedgerEntry{
			ID: uuid.NewString(), TenantID: tenantID, Amount: -paidUsed,
			Category: models.CreditPaid, BalanceAfter: b.Total(),
			Description: description, Actor: actor, CreatedAt: now,
		})
	}

	return Deduction{FreeUsed: freeUsed, PaidUsed: paidUsed, Balance: b}, nil
}

func (m *Memory) Credit(_ context.Context, tenantID string, amount int64, category models.CreditCategory, description string, actor models.Actor) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount %d must be positive", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.balances[tenantID]
	if !ok {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	if category == models.CreditPaid {
		b.Paid += amount
	} else {
		b.Free += amount
	}
	m.balances[tenantID] = b

	m.ledger = append(m.ledger, models.LedgerEntry{
		ID: uuid.NewString(), TenantID: tenantID, Amount: amount,
		Category: category, BalanceAfter: b.Total(),
		Description: description, Actor: actor, CreatedAt: time.Now(),
	})
	return nil
}

func (m *Memory) GetBalance(_ context.Context, tenantID string) (models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[tenantID]
	if !ok {
		return models.Balance{}, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	return b, nil
}

// MessageLogStore

func (m *Memory) RecordMessage(_ context.Context, l models.MessageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, l)
	return nil
}

var _ Store = (*Memory)(nil)
var _ Store = (*Postgres)(nil)
