// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package api is the ops HTTP surface: health, metrics, and a manual
// job trigger for dry runs.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/goldpen/rollcall/internal/clock"
	"github.com/goldpen/rollcall/internal/pipeline"
	"github.com/goldpen/rollcall/internal/store"
)

// Dispatcher runs one decoded job. The consumer satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *pipeline.JobMessage) error
}

// Router is the ops HTTP handler set.
type Router struct {
	tenants    store.TenantStore
	dispatcher Dispatcher
	clk        clock.Clock
	log        zerolog.Logger
}

// NewRouter builds the ops router. dispatcher may be nil when the
// consumer is disabled; the trigger endpoint then reports 503.
func NewRouter(tenants store.TenantStore, dispatcher Dispatcher, clk clock.Clock, log zerolog.Logger) http.Handler {
	rt := &Router{
		tenants:    tenants,
		dispatcher: dispatcher,
		clk:        clk,
		log:        log.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/healthz", rt.health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Post("/api/v1/jobs", rt.triggerJob)

	return r
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type triggerRequest struct {
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
}

type triggerResponse struct {
	Status string `json:"status"`
	Type   string `json:"type"`
	Error  string `json:"error,omitempty"`
}

// triggerJob runs a single job synchronously, bypassing the queue. It
// exists for ops dry runs and test setups, not for production traffic.
func (rt *Router) triggerJob(w http.ResponseWriter, r *http.Request) {
	if rt.dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, triggerResponse{
			Status: "unavailable", Error: "consumer is disabled",
		})
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, triggerResponse{Status: "rejected", Error: "malformed body"})
		return
	}

	jobType := pipeline.JobType(req.Type)
	if !jobType.Valid() {
		writeJSON(w, http.StatusBadRequest, triggerResponse{
			Status: "rejected", Type: req.Type, Error: "unknown job type",
		})
		return
	}

	tick := rt.clk.Tick()
	var job pipeline.JobMessage
	if jobType.TenantScoped() {
		if req.TenantID == "" {
			writeJSON(w, http.StatusBadRequest, triggerResponse{
				Status: "rejected", Type: req.Type, Error: "job type requires tenantId",
			})
			return
		}
		tenant, err := rt.tenants.GetTenant(r.Context(), req.TenantID)
		if err != nil {
			writeJSON(w, http.StatusNotFound, triggerResponse{
				Status: "rejected", Type: req.Type, Error: "tenant not found",
			})
			return
		}
		job = pipeline.NewJobMessage(jobType, tenant, tick)
	} else {
		job = pipeline.NewSystemJobMessage(jobType, tick)
	}

	if err := rt.dispatcher.Dispatch(r.Context(), &job); err != nil {
		rt.log.Error().Err(err).Str("type", req.Type).Msg("manual job failed")
		writeJSON(w, http.StatusInternalServerError, triggerResponse{
			Status: "failed", Type: req.Type, Error: err.Error(),
		})
		return
	}

	rt.log.Info().Str("type", req.Type).Str("tenant", req.TenantID).Msg("manual job completed")
	writeJSON(w, http.StatusOK, triggerResponse{Status: "completed", Type: req.Type})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
