// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package pipeline defines the job types, the queue wire message and
// the error taxonomy shared by the producer and the consumer.
package pipeline

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/goldpen/rollcall/internal/clock"
	"github.com/goldpen/rollcall/internal/models"
)

// JobType identifies what a queued job asks the consumer to do.
type JobType string

const (
	// JobCheckAcademy scans class attendance for academy tenants.
	JobCheckAcademy JobType = "check_academy"

	// JobCheckStudy scans seat commute schedules for study rooms.
	JobCheckStudy JobType = "check_study"

	// JobCheckClass evaluates per-class late/absent conditions.
	JobCheckClass JobType = "check_class"

	// JobCheckCommute evaluates whole-day commute late/absent.
	JobCheckCommute JobType = "check_commute"

	// JobDailyReport sends the end-of-day study summary.
	JobDailyReport JobType = "daily_report"

	// JobProcessCommuteAbsent finalizes no-show students at end of day.
	JobProcessCommuteAbsent JobType = "process_commute_absent"

	// JobAssignmentRemind nudges students with homework due tomorrow.
	JobAssignmentRemind JobType = "assignment_remind"

	// JobProcessNotificationQueue drains pending instant events.
	JobProcessNotificationQueue JobType = "process_notification_queue"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobCheckAcademy, JobCheckStudy, JobCheckClass, JobCheckCommute,
		JobDailyReport, JobProcessCommuteAbsent, JobAssignmentRemind,
		JobProcessNotificationQueue:
		return true
	}
	return false
}

// TenantScoped reports whether the job carries a tenant. The drain job
// is system-wide and travels with an empty tenant.
func (t JobType) TenantScoped() bool {
	return t != JobProcessNotificationQueue
}

// JobMessage is the queue wire schema. One message is one unit of work
// for one tenant and one minute (or one system-wide drain pass).
type JobMessage struct {
	Type                 JobType           `json:"type"`
	TenantID             string            `json:"tenantId,omitempty"`
	TenantName           string            `json:"tenantName,omitempty"`
	TenantType           models.TenantType `json:"tenantType,omitempty"`
	Weekday              string            `json:"weekday"`
	Date                 string            `json:"date"`
	MinutesSinceMidnight int               `json:"minutesSinceMidnight"`
	EnqueuedAtEpochMs    int64             `json:"enqueuedAtEpochMs"`
}

// NewJobMessage builds a tenant-scoped job for one producer tick.
func NewJobMessage(jobType JobType, tenant models.Tenant, tick clock.Tick) JobMessage {
	return JobMessage{
		Type:                 jobType,
		TenantID:             tenant.ID,
		TenantName:           tenant.Name,
		TenantType:           tenant.Type,
		Weekday:              tick.Weekday,
		Date:                 tick.Date,
		MinutesSinceMidnight: tick.MinutesSinceMidnight,
		EnqueuedAtEpochMs:    tick.At.UnixMilli(),
	}
}

// NewSystemJobMessage builds a system-wide job for one producer tick.
func NewSystemJobMessage(jobType JobType, tick clock.Tick) JobMessage {
	return JobMessage{
		Type:                 jobType,
		Weekday:              tick.Weekday,
		Date:                 tick.Date,
		MinutesSinceMidnight: tick.MinutesSinceMidnight,
		EnqueuedAtEpochMs:    tick.At.UnixMilli(),
	}
}

// Key is the deterministic message identity used for broker-side
// deduplication. Two producers (or one producer running a slow
// overlapping tick) enqueueing the same job for the same minute
// collapse to one delivery inside the duplicate window.
func (m *JobMessage) Key() string {
	return fmt.Sprintf("%s:%s:%s:%d", m.Type, m.TenantID, m.Date, m.MinutesSinceMidnight)
}

// Validate checks structural integrity before publish and after
// decode.
func (m *JobMessage) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownJobType, m.Type)
	}
	if m.Type.TenantScoped() && m.TenantID == "" {
		return fmt.Errorf("job %s requires a tenant", m.Type)
	}
	if m.Date == "" {
		return fmt.Errorf("job %s missing date", m.Type)
	}
	if m.MinutesSinceMidnight < 0 || m.MinutesSinceMidnight > 1439 {
		return fmt.Errorf("job %s minute %d out of range", m.Type, m.MinutesSinceMidnight)
	}
	return nil
}

// Serializer encodes job messages for the queue.
type Serializer struct{}

// NewSerializer creates a serializer.
func NewSerializer() *Serializer { return &Serializer{} }

// Marshal validates then encodes a job message.
func (s *Serializer) Marshal(m *JobMessage) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validate job: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return data, nil
}

// Unmarshal decodes then validates a job message.
func (s *Serializer) Unmarshal(data []byte) (*JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validate job: %w", err)
	}
	return &m, nil
}
