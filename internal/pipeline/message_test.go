// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package pipeline

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goldpen/rollcall/internal/clock"
	"github.com/goldpen/rollcall/internal/models"
)

func testTick() clock.Tick {
	return clock.TickAt(time.Date(2026, 3, 4, 9, 5, 0, 0, time.UTC))
}

func TestJobMessageValidate(t *testing.T) {
	tenant := models.Tenant{ID: "t1", Name: "Alpha", Type: models.TenantAcademy}

	tests := []struct {
		name    string
		mutate  func(*JobMessage)
		wantErr bool
	}{
		{name: "valid tenant job"},
		{
			name:    "unknown type",
			mutate:  func(m *JobMessage) { m.Type = "bogus" },
			wantErr: true,
		},
		{
			name:    "tenant job without tenant",
			mutate:  func(m *JobMessage) { m.TenantID = "" },
			wantErr: true,
		},
		{
			name:    "missing date",
			mutate:  func(m *JobMessage) { m.Date = "" },
			wantErr: true,
		},
		{
			name:    "minute out of range",
			mutate:  func(m *JobMessage) { m.MinutesSinceMidnight = 1440 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewJobMessage(JobCheckClass, tenant, testTick())
			if tt.mutate != nil {
				tt.mutate(&m)
			}
			err := m.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSystemJobNeedsNoTenant(t *testing.T) {
	m := NewSystemJobMessage(JobProcessNotificationQueue, testTick())
	if err := m.Validate(); err != nil {
		t.Fatalf("drain job should validate without tenant: %v", err)
	}
	if m.Type.TenantScoped() {
		t.Error("drain job should not be tenant scoped")
	}
}

func TestSerializerRoundTrip(t *testing.T) {
	s := NewSerializer()
	tenant := models.Tenant{ID: "t1", Name: "Alpha", Type: models.TenantHybrid}
	in := NewJobMessage(JobDailyReport, tenant, testTick())

	data, err := s.Marshal(&in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := s.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if *out != in {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestSerializerRejectsInvalid(t *testing.T) {
	s := NewSerializer()
	if _, err := s.Unmarshal([]byte(`{"type":"bogus","date":"2026-03-04"}`)); err == nil {
		t.Fatal("expected error for unknown job type")
	}
	if _, err := s.Unmarshal([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestTransientClassification(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := Transient(base)

	if !IsTransient(wrapped) {
		t.Error("Transient(err) should classify as transient")
	}
	if !errors.Is(wrapped, base) {
		t.Error("Transient should preserve the wrapped error")
	}
	if IsTransient(ErrInsufficientBalance) {
		t.Error("domain errors must not be transient")
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}

	deep := fmt.Errorf("handler: %w", Transientf("publish: %v", base))
	if !IsTransient(deep) {
		t.Error("wrapped transient should still classify")
	}
}
