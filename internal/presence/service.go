// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package presence implements the attendance state machine. Check-in
// opens a session; sleep and outing intervals nest inside an open
// session; check-out closes it. Transitions that announce themselves
// to guardians (check-in, check-out, outing, return) enqueue an
// instant notification row which the drain job delivers.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goldpen/rollcall/internal/clock"
	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/pipeline"
	"github.com/goldpen/rollcall/internal/store"
)

// Store is the persistence surface the state machine needs.
type Store interface {
	store.PresenceStore
	store.QueueStore
}

// Service applies presence transitions.
type Service struct {
	store Store
	log   zerolog.Logger
}

// NewService creates a presence service.
func NewService(s Store, log zerolog.Logger) *Service {
	return &Service{store: s, log: log.With().Str("component", "presence").Logger()}
}

// CheckIn opens a session for the student. A second check-in while a
// session is open is an illegal transition.
func (s *Service) CheckIn(ctx context.Context, actor models.Actor, tenantID, studentID string, at time.Time) (models.PresenceSession, error) {
	date := clock.TickAt(at).Date

	if _, err := s.store.OpenSession(ctx, tenantID, studentID, date); err == nil {
		return models.PresenceSession{}, fmt.Errorf("student %s already checked in: %w", studentID, pipeline.ErrIllegalTransition)
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.PresenceSession{}, fmt.Errorf("check in: %w", err)
	}

	session := models.PresenceSession{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		StudentID: studentID,
		Date:      date,
		CheckInAt: at,
		Status:    models.SessionAttending,
	}
	// Two concurrent check-ins can both pass the pre-check; the store's
	// uniqueness guard catches the loser.
	if err := s.store.CreateSession(ctx, session); errors.Is(err, store.ErrDuplicate) {
		return models.PresenceSession{}, fmt.Errorf("student %s already checked in: %w", studentID, pipeline.ErrIllegalTransition)
	} else if err != nil {
		return models.PresenceSession{}, fmt.Errorf("check in: %w", err)
	}

	if err := s.enqueue(ctx, tenantID, studentID, models.KindCheckIn, "", at); err != nil {
		return models.PresenceSession{}, err
	}

	s.log.Debug().Str("actor", actor.String()).Str("student", studentID).
		Str("date", date).Msg("checked in")
	return session, nil
}

// CheckOut closes the open session. Checking out with no open session,
// or while sleeping or out, is an illegal transition.
func (s *Service) CheckOut(ctx context.Context, actor models.Actor, tenantID, studentID string, at time.Time) (models.PresenceSession, error) {
	date := clock.TickAt(at).Date

	session, err := s.store.OpenSession(ctx, tenantID, studentID, date)
	if errors.Is(err, store.ErrNotFound) {
		return models.PresenceSession{}, fmt.Errorf("student %s has no open session: %w", studentID, pipeline.ErrIllegalTransition)
	}
	if err != nil {
		return models.PresenceSession{}, fmt.Errorf("check out: %w", err)
	}

	if _, err := s.store.ActiveSleep(ctx, session.ID); err == nil {
		return models.PresenceSession{}, fmt.Errorf("student %s is sleeping: %w", studentID, pipeline.ErrIllegalTransition)
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.PresenceSession{}, fmt.Errorf("check out: %w", err)
	}
	if _, err := s.store.ActiveOuting(ctx, session.ID); err == nil {
		return models.PresenceSession{}, fmt.Errorf("student %s is out: %w", studentID, pipeline.ErrIllegalTransition)
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.PresenceSession{}, fmt.Errorf("check out: %w", err)
	}

	session.CheckOutAt = &at
	session.DurationMinutes = minutesBetween(session.CheckInAt, at)
	session.Status = models.SessionCompleted
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return models.PresenceSession{}, fmt.Errorf("check out: %w", err)
	}

	if err := s.enqueue(ctx, tenantID, studentID, models.KindCheckOut, "", at); err != nil {
		return models.PresenceSession{}, err
	}

	s.log.Debug().Str("actor", actor.String()).Str("student", studentID).
		Int("minutes", session.DurationMinutes).Msg("checked out")
	return session, nil
}

// StartSleep opens a sleep interval. It requires an open session and
// no sleep already in progress.
func (s *Service) StartSleep(ctx context.Context, actor models.Actor, tenantID, studentID string, at time.Time) error {
	session, err := s.requireOpenSession(ctx, tenantID, studentID, at)
	if err != nil {
		return err
	}

	if _, err := s.store.ActiveSleep(ctx, session.ID); err == nil {
		return fmt.Errorf("student %s already sleeping: %w", studentID, pipeline.ErrIllegalTransition)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("start sleep: %w", err)
	}

	err = s.store.CreateSleep(ctx, models.SleepRecord{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		TenantID:  tenantID,
		StudentID: studentID,
		StartAt:   at,
	})
	if err != nil {
		return fmt.Errorf("start sleep: %w", err)
	}
	s.log.Debug().Str("actor", actor.String()).Str("student", studentID).Msg("sleep started")
	return nil
}

// EndSleep closes the sleep interval. Ending with no active sleep is a
// silent no-op so repeated wake taps stay harmless.
func (s *Service) EndSleep(ctx context.Context, actor models.Actor, tenantID, studentID string, at time.Time) error {
	date := clock.TickAt(at).Date
	session, err := s.store.OpenSession(ctx, tenantID, studentID, date)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("end sleep: %w", err)
	}

	rec, err := s.store.ActiveSleep(ctx, session.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("end sleep: %w", err)
	}

	rec.WakeAt = &at
	rec.DurationMinutes = minutesBetween(rec.StartAt, at)
	if err := s.store.UpdateSleep(ctx, rec); err != nil {
		return fmt.Errorf("end sleep: %w", err)
	}
	s.log.Debug().Str("actor", actor.String()).Str("student", studentID).
		Int("minutes", rec.DurationMinutes).Msg("sleep ended")
	return nil
}

// StartOuting opens an outing interval and enqueues the outing
// notification. It requires an open session and no outing in progress.
func (s *Service) StartOuting(ctx context.Context, actor models.Actor, tenantID, studentID, reason string, at time.Time) error {
	session, err := s.requireOpenSession(ctx, tenantID, studentID, at)
	if err != nil {
		return err
	}

	if _, err := s.store.ActiveOuting(ctx, session.ID); err == nil {
		return fmt.Errorf("student %s already out: %w", studentID, pipeline.ErrIllegalTransition)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("start outing: %w", err)
	}

	err = s.store.CreateOuting(ctx, models.OutingRecord{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		TenantID:  tenantID,
		StudentID: studentID,
		Reason:    reason,
		StartAt:   at,
	})
	if err != nil {
		return fmt.Errorf("start outing: %w", err)
	}

	if err := s.enqueue(ctx, tenantID, studentID, models.KindOuting, reason, at); err != nil {
		return err
	}
	s.log.Debug().Str("actor", actor.String()).Str("student", studentID).
		Str("reason", reason).Msg("outing started")
	return nil
}

// EndOuting closes the outing interval and enqueues the return
// notification. Ending with no active outing is a silent no-op.
func (s *Service) EndOuting(ctx context.Context, actor models.Actor, tenantID, studentID string, at time.Time) error {
	date := clock.TickAt(at).Date
	session, err := s.store.OpenSession(ctx, tenantID, studentID, date)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("end outing: %w", err)
	}

	rec, err := s.store.ActiveOuting(ctx, session.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("end outing: %w", err)
	}

	rec.ReturnAt = &at
	rec.DurationMinutes = minutesBetween(rec.StartAt, at)
	if err := s.store.UpdateOuting(ctx, rec); err != nil {
		return fmt.Errorf("end outing: %w", err)
	}

	if err := s.enqueue(ctx, tenantID, studentID, models.KindReturn, "", at); err != nil {
		return err
	}
	s.log.Debug().Str("actor", actor.String()).Str("student", studentID).
		Int("minutes", rec.DurationMinutes).Msg("outing ended")
	return nil
}

func (s *Service) requireOpenSession(ctx context.Context, tenantID, studentID string, at time.Time) (models.PresenceSession, error) {
	date := clock.TickAt(at).Date
	session, err := s.store.OpenSession(ctx, tenantID, studentID, date)
	if errors.Is(err, store.ErrNotFound) {
		return models.PresenceSession{}, fmt.Errorf("student %s has no open session: %w", studentID, pipeline.ErrIllegalTransition)
	}
	if err != nil {
		return models.PresenceSession{}, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}

func (s *Service) enqueue(ctx context.Context, tenantID, studentID string, kind models.NotificationKind, reason string, at time.Time) error {
	err := s.store.EnqueueEntry(ctx, models.QueueEntry{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		StudentID:  studentID,
		Kind:       kind,
		Reason:     reason,
		Status:     models.QueueEntryPending,
		OccurredAt: at,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s notification: %w", kind, err)
	}
	return nil
}

func minutesBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
