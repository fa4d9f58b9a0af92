// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goldpen/rollcall/internal/models"
)

func TestOpenSessionUniqueness(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first := models.PresenceSession{
		ID: "s1", TenantID: "t1", StudentID: "st1", Date: "2026-03-04",
		CheckInAt: time.Now(), Status: models.SessionAttending,
	}
	if err := m.CreateSession(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := first
	dup.ID = "s2"
	if err := m.CreateSession(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second open session: err = %v, want ErrDuplicate", err)
	}

	got, err := m.OpenSession(ctx, "t1", "st1", "2026-03-04")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if got.ID != "s1" {
		t.Errorf("got session %s", got.ID)
	}

	// Close it, then a new session for the same date is allowed.
	now := time.Now()
	got.CheckOutAt = &now
	got.Status = models.SessionCompleted
	if err := m.UpdateSession(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := m.CreateSession(ctx, dup); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestUpsertSubjectStatAccumulates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	writes := []models.SubjectStat{
		{TenantID: "t1", StudentID: "st1", Date: "2026-03-04", Subject: "math", Minutes: 25},
		{TenantID: "t1", StudentID: "st1", Date: "2026-03-04", Subject: "math", Minutes: 30, Completed: true},
		// A later write without the flag must not clear it.
		{TenantID: "t1", StudentID: "st1", Date: "2026-03-04", Subject: "math", Minutes: 5},
		{TenantID: "t1", StudentID: "st1", Date: "2026-03-04", Subject: "english", Minutes: 40},
	}
	for _, w := range writes {
		if err := m.UpsertSubjectStat(ctx, w); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	stats, err := m.ListSubjectStats(ctx, "t1", "2026-03-04")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %d rows, want 2", len(stats))
	}
	if stats[0].Subject != "english" || stats[0].Minutes != 40 || stats[0].Completed {
		t.Errorf("english = %+v", stats[0])
	}
	if stats[1].Subject != "math" || stats[1].Minutes != 60 || !stats[1].Completed {
		t.Errorf("math = %+v, want 60 minutes and completed kept", stats[1])
	}
}

func TestNotificationDedup(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	l := models.NotificationLog{
		ID: "n1", TenantID: "t1", StudentID: "st1",
		Kind: models.KindLate, Date: "2026-03-04", CreatedAt: time.Now(),
	}
	exists, err := m.NotificationExists(ctx, "t1", "st1", models.KindLate, "", "2026-03-04")
	if err != nil || exists {
		t.Fatalf("exists = %v, err = %v", exists, err)
	}
	if err := m.RecordNotification(ctx, l); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := m.RecordNotification(ctx, l); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate record: err = %v", err)
	}
	exists, _ = m.NotificationExists(ctx, "t1", "st1", models.KindLate, "", "2026-03-04")
	if !exists {
		t.Error("expected guard row to exist")
	}

	// Same student and date, different class is a distinct condition.
	other := l
	other.ID = "n2"
	other.ClassID = "c1"
	if err := m.RecordNotification(ctx, other); err != nil {
		t.Errorf("class-scoped record: %v", err)
	}
}

func TestQueueEntryLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"q1", "q2", "q3"} {
		err := m.EnqueueEntry(ctx, models.QueueEntry{
			ID: id, TenantID: "t1", StudentID: "st1", Kind: models.KindCheckIn,
			Status: models.QueueEntryPending, OccurredAt: base,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	pending, err := m.ListPendingEntries(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "q1" || pending[1].ID != "q2" {
		t.Fatalf("pending = %+v, want q1,q2 oldest first", pending)
	}

	if err := m.MarkEntrySent(ctx, "q1"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := m.MarkEntrySent(ctx, "q1"); err == nil {
		t.Error("second mark sent should fail, entry no longer pending")
	}

	n, err := m.BumpEntryRetry(ctx, "q2")
	if err != nil || n != 1 {
		t.Fatalf("bump = %d, %v", n, err)
	}
	if err := m.MarkEntryFailed(ctx, "q2"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, _ = m.ListPendingEntries(ctx, 10)
	if len(pending) != 1 || pending[0].ID != "q3" {
		t.Errorf("pending = %+v, want only q3", pending)
	}
}

func TestAttendanceMarkEscalatesOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	late := models.AttendanceMark{
		TenantID: "t1", StudentID: "st1", Date: "2026-03-04",
		Status: models.AttendanceLate, MarkedAt: time.Now(),
	}
	if err := m.UpsertAttendanceMark(ctx, late); err != nil {
		t.Fatalf("upsert late: %v", err)
	}

	absent := late
	absent.Status = models.AttendanceAbsent
	if err := m.UpsertAttendanceMark(ctx, absent); err != nil {
		t.Fatalf("upsert absent: %v", err)
	}

	// A later late mark must not downgrade absent.
	if err := m.UpsertAttendanceMark(ctx, late); err != nil {
		t.Fatalf("upsert late again: %v", err)
	}
	got, err := m.GetAttendanceMark(ctx, "t1", "st1", "", "2026-03-04")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.AttendanceAbsent {
		t.Errorf("status = %s, want absent to stick", got.Status)
	}
}

func TestClassMeetings(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.AddStudent(models.Student{ID: "st1", TenantID: "t1", Name: "Kim", Active: true})
	m.AddStudent(models.Student{ID: "st2", TenantID: "t1", Name: "Lee", Active: false})
	m.AddClass(models.Class{ID: "c1", TenantID: "t1", Name: "Math", Active: true},
		[]models.ClassSlot{
			{ClassID: "c1", Weekday: "monday", StartTime: "16:00", EndTime: "17:30"},
			{ClassID: "c1", Weekday: "wednesday", StartTime: "16:00", EndTime: "17:30"},
		},
		[]string{"st1", "st2"})

	meetings, err := m.ListClassMeetings(ctx, "t1", "monday")
	if err != nil {
		t.Fatalf("meetings: %v", err)
	}
	if len(meetings) != 1 || meetings[0].StartTime != "16:00" {
		t.Fatalf("meetings = %+v", meetings)
	}

	students, err := m.ListEnrolledStudents(ctx, "c1")
	if err != nil {
		t.Fatalf("students: %v", err)
	}
	if len(students) != 1 || students[0].ID != "st1" {
		t.Errorf("students = %+v, want only active st1", students)
	}
}
