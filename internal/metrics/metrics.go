// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package metrics defines the Prometheus collectors for the pipeline.
// Collectors register on the default registry via promauto and are
// exposed on the ops HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsEnqueued counts producer-enqueued jobs by type.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Subsystem: "producer",
		Name:      "jobs_enqueued_total",
		Help:      "Jobs enqueued by the minute producer, by job type.",
	}, []string{"type"})

	// EnqueueBatchFailures counts publish chunks that failed.
	EnqueueBatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollcall",
		Subsystem: "producer",
		Name:      "enqueue_batch_failures_total",
		Help:      "Publish chunks that failed during producer fan-out.",
	})

	// TickDuration observes one full producer fan-out.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Subsystem: "producer",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one producer fan-out tick.",
		Buckets:   prometheus.DefBuckets,
	})

	// JobsProcessed counts consumed jobs by type and result.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Subsystem: "consumer",
		Name:      "jobs_processed_total",
		Help:      "Jobs processed by the consumer, by type and result.",
	}, []string{"type", "result"})

	// JobDuration observes handler execution by job type.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Subsystem: "consumer",
		Name:      "job_duration_seconds",
		Help:      "Handler execution time by job type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	// NotificationsSent counts send attempts by kind and status.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Notification send attempts, by kind and status.",
	}, []string{"kind", "status"})

	// CreditDeductions counts ledger deduction attempts by result.
	CreditDeductions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Subsystem: "ledger",
		Name:      "deductions_total",
		Help:      "Credit deduction attempts, by result.",
	}, []string{"result"})

	// DrainOutcomes counts drained queue entries by outcome.
	DrainOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Subsystem: "drain",
		Name:      "entries_total",
		Help:      "Instant queue entries processed by the drain job, by outcome.",
	}, []string{"outcome"})

	// GatewayRequestDuration observes provider call latency.
	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Messaging provider request latency, by channel.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"channel"})

	// TemplateCacheEvents counts template cache hits and misses.
	TemplateCacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Subsystem: "gateway",
		Name:      "template_cache_events_total",
		Help:      "Template cache lookups, by event.",
	}, []string{"event"})
)
