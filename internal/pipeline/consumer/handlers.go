// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package consumer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/goldpen/rollcall/internal/clock"
	"github.com/goldpen/rollcall/internal/gateway"
	"github.com/goldpen/rollcall/internal/metrics"
	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/notify"
	"github.com/goldpen/rollcall/internal/pipeline"
	"github.com/goldpen/rollcall/internal/store"
)

// checkCommute evaluates commute schedules for one tenant and minute.
// A student past check-in plus grace is late; past the scheduled
// check-out (or check-in plus the fallback window when no check-out is
// scheduled) the student is absent, with the late notice sent first if
// it never fired. Study-room tenants additionally get a zero-duration
// absence session so the seat record for the day is complete.
func (c *Consumer) checkCommute(ctx context.Context, job *pipeline.JobMessage) error {
	tenant, err := c.store.GetTenant(ctx, job.TenantID)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("load tenant: %w", err))
	}

	schedules, err := c.store.ListSchedulesForWeekday(ctx, job.TenantID, job.Weekday)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("list schedules: %w", err))
	}
	if len(schedules) == 0 {
		return nil
	}

	arrived, err := c.arrivedSet(ctx, job.TenantID, job.Date)
	if err != nil {
		return err
	}

	now := job.MinutesSinceMidnight
	grace := tenant.Settings.LateGraceMinutes
	var firstErr error

	for _, sched := range schedules {
		if arrived[sched.StudentID] {
			continue
		}

		inMin, err := clock.ParseHHMM(sched.CheckInTime)
		if err != nil {
			c.log.Warn().Str("schedule", sched.ID).Str("time", sched.CheckInTime).
				Msg("skip schedule with malformed check-in time")
			continue
		}
		absentAfter := inMin + models.AbsentFallbackMinutes
		if sched.CheckOutTime != "" {
			if outMin, err := clock.ParseHHMM(sched.CheckOutTime); err == nil {
				absentAfter = outMin
			}
		}

		mark, markErr := c.store.GetAttendanceMark(ctx, job.TenantID, sched.StudentID, "", job.Date)
		hasMark := markErr == nil
		if markErr != nil && !errors.Is(markErr, store.ErrNotFound) {
			firstErr = keepFirst(firstErr, pipeline.Transient(fmt.Errorf("load mark: %w", markErr)))
			continue
		}

		switch {
		case now > absentAfter:
			if hasMark && mark.Status == models.AttendanceAbsent {
				continue
			}
			err = c.commuteAbsent(ctx, tenant, sched, job)
		case now > inMin+grace:
			if hasMark {
				continue
			}
			err = c.commuteLate(ctx, tenant, sched, job)
		default:
			continue
		}
		firstErr = keepFirst(firstErr, err)
	}
	return firstErr
}

func (c *Consumer) commuteLate(ctx context.Context, tenant models.Tenant, sched models.CommuteSchedule, job *pipeline.JobMessage) error {
	student, err := c.store.GetStudent(ctx, sched.StudentID)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("load student: %w", err))
	}
	if !student.Active {
		return nil
	}

	err = c.store.UpsertAttendanceMark(ctx, models.AttendanceMark{
		TenantID:  tenant.ID,
		StudentID: student.ID,
		Date:      job.Date,
		Status:    models.AttendanceLate,
		MarkedAt:  c.clk.Now(),
	})
	if err != nil {
		return pipeline.Transient(fmt.Errorf("mark late: %w", err))
	}

	_, err = c.notifier.Send(ctx, models.SystemActor(), notify.Notification{
		Tenant:     tenant,
		Student:    student,
		Kind:       models.KindLate,
		Date:       job.Date,
		OccurredAt: time.UnixMilli(job.EnqueuedAtEpochMs).In(c.clk.Location()),
		Vars:       map[string]string{"expectedTime": sched.CheckInTime},
	})
	return err
}

func (c *Consumer) commuteAbsent(ctx context.Context, tenant models.Tenant, sched models.CommuteSchedule, job *pipeline.JobMessage) error {
	student, err := c.store.GetStudent(ctx, sched.StudentID)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("load student: %w", err))
	}
	if !student.Active {
		return nil
	}

	occurred := time.UnixMilli(job.EnqueuedAtEpochMs).In(c.clk.Location())

	// Late-before-absent ordering: the late notice goes out first when
	// it never fired, then the absence. The dedup guard collapses
	// repeats of either.
	if _, err := c.notifier.Send(ctx, models.SystemActor(), notify.Notification{
		Tenant:     tenant,
		Student:    student,
		Kind:       models.KindLate,
		Date:       job.Date,
		OccurredAt: occurred,
		Vars:       map[string]string{"expectedTime": sched.CheckInTime},
	}); err != nil {
		return err
	}

	err = c.store.UpsertAttendanceMark(ctx, models.AttendanceMark{
		TenantID:  tenant.ID,
		StudentID: student.ID,
		Date:      job.Date,
		Status:    models.AttendanceAbsent,
		MarkedAt:  c.clk.Now(),
	})
	if err != nil {
		return pipeline.Transient(fmt.Errorf("mark absent: %w", err))
	}

	if tenant.Type.HasStudyChecks() {
		if err := c.writeAbsenceSession(ctx, tenant.ID, student.ID, job.Date, occurred); err != nil {
			return err
		}
	}

	_, err = c.notifier.Send(ctx, models.SystemActor(), notify.Notification{
		Tenant:     tenant,
		Student:    student,
		Kind:       models.KindAbsent,
		Date:       job.Date,
		OccurredAt: occurred,
		Vars:       map[string]string{"expectedTime": sched.CheckInTime},
	})
	return err
}

// checkClass evaluates class slots for one tenant and minute. Late and
// absent are tracked per (student, class, date): late after slot start
// plus grace, absent once the slot has ended, with the mark escalating
// but never downgrading.
func (c *Consumer) checkClass(ctx context.Context, job *pipeline.JobMessage) error {
	tenant, err := c.store.GetTenant(ctx, job.TenantID)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("load tenant: %w", err))
	}

	meetings, err := c.store.ListClassMeetings(ctx, job.TenantID, job.Weekday)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("list class meetings: %w", err))
	}
	if len(meetings) == 0 {
		return nil
	}

	arrived, err := c.arrivedSet(ctx, job.TenantID, job.Date)
	if err != nil {
		return err
	}

	now := job.MinutesSinceMidnight
	grace := tenant.Settings.LateGraceMinutes
	occurred := time.UnixMilli(job.EnqueuedAtEpochMs).In(c.clk.Location())
	var firstErr error

	for _, meeting := range meetings {
		start, err := clock.ParseHHMM(meeting.StartTime)
		if err != nil {
			c.log.Warn().Str("class", meeting.Class.ID).Str("time", meeting.StartTime).
				Msg("skip slot with malformed start time")
			continue
		}
		end, err := clock.ParseHHMM(meeting.EndTime)
		if err != nil {
			end = start
		}
		if now <= start+grace {
			continue
		}

		students, err := c.store.ListEnrolledStudents(ctx, meeting.Class.ID)
		if err != nil {
			firstErr = keepFirst(firstErr, pipeline.Transient(fmt.Errorf("list enrollments: %w", err)))
			continue
		}

		for _, student := range students {
			if !student.Active || arrived[student.ID] {
				continue
			}

			mark, markErr := c.store.GetAttendanceMark(ctx, tenant.ID, student.ID, meeting.Class.ID, job.Date)
			hasMark := markErr == nil
			if markErr != nil && !errors.Is(markErr, store.ErrNotFound) {
				firstErr = keepFirst(firstErr, pipeline.Transient(fmt.Errorf("load mark: %w", markErr)))
				continue
			}

			status := models.AttendanceLate
			kind := models.KindLate
			if now > end {
				if hasMark && mark.Status == models.AttendanceAbsent {
					continue
				}
				status = models.AttendanceAbsent
				kind = models.KindAbsent
			} else if hasMark {
				continue
			}

			err := c.store.UpsertAttendanceMark(ctx, models.AttendanceMark{
				TenantID:  tenant.ID,
				StudentID: student.ID,
				ClassID:   meeting.Class.ID,
				Date:      job.Date,
				Status:    status,
				MarkedAt:  c.clk.Now(),
			})
			if err != nil {
				firstErr = keepFirst(firstErr, pipeline.Transient(fmt.Errorf("mark %s: %w", status, err)))
				continue
			}

			_, err = c.notifier.Send(ctx, models.SystemActor(), notify.Notification{
				Tenant:     tenant,
				Student:    student,
				Kind:       kind,
				ClassID:    meeting.Class.ID,
				Date:       job.Date,
				OccurredAt: occurred,
				Vars: map[string]string{
					"className":    meeting.Class.Name,
					"expectedTime": meeting.StartTime,
				},
			})
			firstErr = keepFirst(firstErr, err)
		}
	}
	return firstErr
}

// dailyReport aggregates the day's sessions per student and sends the
// study summary once per (tenant, student, date). The summary carries
// total study time plus the count of subjects the student finished,
// pulled from the planner's subject rows.
func (c *Consumer) dailyReport(ctx context.Context, job *pipeline.JobMessage) error {
	tenant, err := c.store.GetTenant(ctx, job.TenantID)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("load tenant: %w", err))
	}

	sessions, err := c.store.ListSessionsForDate(ctx, job.TenantID, job.Date)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("list sessions: %w", err))
	}

	stats, err := c.store.ListSubjectStats(ctx, job.TenantID, job.Date)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("list subject stats: %w", err))
	}
	completed := map[string]int{}
	for _, s := range stats {
		if s.Completed {
			completed[s.StudentID]++
		}
	}

	asOf := time.UnixMilli(job.EnqueuedAtEpochMs).In(c.clk.Location())
	totals := map[string]int{}
	for _, s := range sessions {
		if s.Status == models.SessionAbsent {
			continue
		}
		mins := s.DurationMinutes
		if s.CheckOutAt == nil {
			mins = int(asOf.Sub(s.CheckInAt) / time.Minute)
			if mins < 0 {
				mins = 0
			}
		}
		totals[s.StudentID] += mins
	}

	var firstErr error
	for studentID, minutes := range totals {
		student, err := c.store.GetStudent(ctx, studentID)
		if err != nil {
			firstErr = keepFirst(firstErr, pipeline.Transient(fmt.Errorf("load student: %w", err)))
			continue
		}
		if !student.Active {
			continue
		}

		_, err = c.notifier.Send(ctx, models.SystemActor(), notify.Notification{
			Tenant:     tenant,
			Student:    student,
			Kind:       models.KindDailyReport,
			Date:       job.Date,
			OccurredAt: asOf,
			Vars: map[string]string{
				"totalTime":    gateway.FormatDuration(minutes),
				"subjectCount": strconv.Itoa(completed[studentID]),
			},
		})
		firstErr = keepFirst(firstErr, err)
	}
	return firstErr
}

// assignmentRemind notifies enrolled students about homework due the
// day after the job date, skipping anyone who already submitted. The
// dedup guard keys on the class, so one reminder per class per day
// goes out even when several assignments fall due together.
func (c *Consumer) assignmentRemind(ctx context.Context, job *pipeline.JobMessage) error {
	tenant, err := c.store.GetTenant(ctx, job.TenantID)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("load tenant: %w", err))
	}

	day, err := time.Parse("2006-01-02", job.Date)
	if err != nil {
		return fmt.Errorf("parse job date %q: %w", job.Date, err)
	}
	dueDate := day.AddDate(0, 0, 1).Format("2006-01-02")

	due, err := c.store.ListAssignmentsDue(ctx, job.TenantID, dueDate)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("list due assignments: %w", err))
	}

	occurred := time.UnixMilli(job.EnqueuedAtEpochMs).In(c.clk.Location())
	var firstErr error
	for _, d := range due {
		if !d.Student.Active {
			continue
		}
		_, err := c.notifier.Send(ctx, models.SystemActor(), notify.Notification{
			Tenant:     tenant,
			Student:    d.Student,
			Kind:       models.KindAssignment,
			ClassID:    d.Assignment.ClassID,
			Date:       job.Date,
			OccurredAt: occurred,
			Vars: map[string]string{
				"assignmentTitle": d.Assignment.Title,
				"dueDate":         d.Assignment.DueDate,
			},
		})
		firstErr = keepFirst(firstErr, err)
	}
	return firstErr
}

// processCommuteAbsent is the end-of-day sweep: students with a slot
// today who never checked in and carry no attendance mark are closed
// out as absent.
func (c *Consumer) processCommuteAbsent(ctx context.Context, job *pipeline.JobMessage) error {
	tenant, err := c.store.GetTenant(ctx, job.TenantID)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("load tenant: %w", err))
	}

	schedules, err := c.store.ListSchedulesForWeekday(ctx, job.TenantID, job.Weekday)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("list schedules: %w", err))
	}

	arrived, err := c.arrivedSet(ctx, job.TenantID, job.Date)
	if err != nil {
		return err
	}

	occurred := time.UnixMilli(job.EnqueuedAtEpochMs).In(c.clk.Location())
	var firstErr error

	for _, sched := range schedules {
		if arrived[sched.StudentID] {
			continue
		}
		if _, err := c.store.GetAttendanceMark(ctx, job.TenantID, sched.StudentID, "", job.Date); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			firstErr = keepFirst(firstErr, pipeline.Transient(fmt.Errorf("load mark: %w", err)))
			continue
		}

		student, err := c.store.GetStudent(ctx, sched.StudentID)
		if err != nil {
			firstErr = keepFirst(firstErr, pipeline.Transient(fmt.Errorf("load student: %w", err)))
			continue
		}
		if !student.Active {
			continue
		}

		err = c.store.UpsertAttendanceMark(ctx, models.AttendanceMark{
			TenantID:  tenant.ID,
			StudentID: student.ID,
			Date:      job.Date,
			Status:    models.AttendanceAbsent,
			MarkedAt:  c.clk.Now(),
		})
		if err != nil {
			firstErr = keepFirst(firstErr, pipeline.Transient(fmt.Errorf("mark absent: %w", err)))
			continue
		}

		if tenant.Type.HasStudyChecks() {
			if err := c.writeAbsenceSession(ctx, tenant.ID, student.ID, job.Date, occurred); err != nil {
				firstErr = keepFirst(firstErr, err)
				continue
			}
		}

		_, err = c.notifier.Send(ctx, models.SystemActor(), notify.Notification{
			Tenant:     tenant,
			Student:    student,
			Kind:       models.KindAbsent,
			Date:       job.Date,
			OccurredAt: occurred,
		})
		firstErr = keepFirst(firstErr, err)
	}
	return firstErr
}

// drainQueue delivers pending instant notification rows, oldest first,
// capped per pass. Delivery failures bump the per-row retry budget and
// leave the row pending; the budget exhausting marks it failed. Row
// status transitions carry the idempotency here, not the dedup guard.
func (c *Consumer) drainQueue(ctx context.Context, job *pipeline.JobMessage) error {
	entries, err := c.store.ListPendingEntries(ctx, c.cfg.DrainBatchSize)
	if err != nil {
		return pipeline.Transient(fmt.Errorf("list pending entries: %w", err))
	}

	for _, entry := range entries {
		c.drainEntry(ctx, entry)
	}
	return nil
}

func (c *Consumer) drainEntry(ctx context.Context, entry models.QueueEntry) {
	tenant, err := c.store.GetTenant(ctx, entry.TenantID)
	if err != nil {
		c.retryOrFail(ctx, entry, fmt.Errorf("load tenant: %w", err))
		return
	}
	student, err := c.store.GetStudent(ctx, entry.StudentID)
	if err != nil {
		c.retryOrFail(ctx, entry, fmt.Errorf("load student: %w", err))
		return
	}

	occurred := entry.OccurredAt.In(c.clk.Location())
	var vars map[string]string
	if entry.Reason != "" {
		vars = map[string]string{"reason": entry.Reason}
	}

	sent, err := c.notifier.Send(ctx, models.SystemActor(), notify.Notification{
		Tenant:     tenant,
		Student:    student,
		Kind:       entry.Kind,
		Date:       clock.TickAt(occurred).Date,
		OccurredAt: occurred,
		Vars:       vars,
	})
	if err == nil && sent {
		if err := c.store.MarkEntrySent(ctx, entry.ID); err != nil {
			c.log.Error().Err(err).Str("entry", entry.ID).Msg("mark entry sent failed")
			return
		}
		metrics.DrainOutcomes.WithLabelValues("sent").Inc()
		return
	}
	if err == nil {
		err = fmt.Errorf("send refused")
	}
	c.retryOrFail(ctx, entry, err)
}

func (c *Consumer) retryOrFail(ctx context.Context, entry models.QueueEntry, cause error) {
	retries, err := c.store.BumpEntryRetry(ctx, entry.ID)
	if err != nil {
		c.log.Error().Err(err).Str("entry", entry.ID).Msg("bump entry retry failed")
		return
	}
	if retries >= models.MaxQueueEntryRetries {
		if err := c.store.MarkEntryFailed(ctx, entry.ID); err != nil {
			c.log.Error().Err(err).Str("entry", entry.ID).Msg("mark entry failed failed")
			return
		}
		metrics.DrainOutcomes.WithLabelValues("failed").Inc()
		c.log.Warn().Err(cause).Str("entry", entry.ID).Str("kind", string(entry.Kind)).
			Int("retries", retries).Msg("queue entry abandoned")
		return
	}
	metrics.DrainOutcomes.WithLabelValues("retry").Inc()
	c.log.Warn().Err(cause).Str("entry", entry.ID).Str("kind", string(entry.Kind)).
		Int("retries", retries).Msg("queue entry left pending for retry")
}

// arrivedSet returns the students with any session for the date. An
// absence session counts too, which keeps already-finalized students
// out of later sweeps.
func (c *Consumer) arrivedSet(ctx context.Context, tenantID, date string) (map[string]bool, error) {
	sessions, err := c.store.ListSessionsForDate(ctx, tenantID, date)
	if err != nil {
		return nil, pipeline.Transient(fmt.Errorf("list sessions: %w", err))
	}
	set := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		set[s.StudentID] = true
	}
	return set, nil
}

func (c *Consumer) writeAbsenceSession(ctx context.Context, tenantID, studentID, date string, at time.Time) error {
	err := c.store.CreateSession(ctx, models.PresenceSession{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		StudentID:  studentID,
		Date:       date,
		CheckInAt:  at,
		CheckOutAt: &at,
		Status:     models.SessionAbsent,
	})
	if err != nil {
		return pipeline.Transient(fmt.Errorf("write absence session: %w", err))
	}
	return nil
}

func keepFirst(current, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
