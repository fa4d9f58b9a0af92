// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goldpen/rollcall/internal/clock"
	"github.com/goldpen/rollcall/internal/logging"
	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/pipeline"
	"github.com/goldpen/rollcall/internal/store"
)

type fakeDispatcher struct {
	jobs []pipeline.JobMessage
	err  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, job *pipeline.JobMessage) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, *job)
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *fakeDispatcher) {
	t.Helper()
	mem := store.NewMemory()
	mem.AddTenant(models.Tenant{
		ID: "t1", Name: "Alpha", Type: models.TenantAcademy, Active: true,
		Settings: models.DefaultTenantSettings(),
	}, models.Balance{})

	d := &fakeDispatcher{}
	clk := clock.Fixed{T: time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)}
	return NewRouter(mem, d, clk, logging.NewTestLogger(io.Discard)), d
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetricsExposed(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTriggerJob(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantJobs int
	}{
		{"tenant job", `{"type":"check_commute","tenantId":"t1"}`, http.StatusOK, 1},
		{"system job", `{"type":"process_notification_queue"}`, http.StatusOK, 1},
		{"unknown type", `{"type":"reboot"}`, http.StatusBadRequest, 0},
		{"missing tenant id", `{"type":"check_commute"}`, http.StatusBadRequest, 0},
		{"unknown tenant", `{"type":"check_commute","tenantId":"ghost"}`, http.StatusNotFound, 0},
		{"malformed body", `{`, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, d := newTestRouter(t)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if len(d.jobs) != tt.wantJobs {
				t.Errorf("dispatched = %d, want %d", len(d.jobs), tt.wantJobs)
			}
		})
	}
}

func TestTriggerJobCarriesTenantContext(t *testing.T) {
	router, d := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs",
		strings.NewReader(`{"type":"daily_report","tenantId":"t1"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	job := d.jobs[0]
	if job.TenantName != "Alpha" || job.TenantType != models.TenantAcademy {
		t.Errorf("job = %+v, want tenant fields resolved", job)
	}
	if job.Date != "2026-03-04" {
		t.Errorf("date = %q", job.Date)
	}
}
