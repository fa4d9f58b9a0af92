// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package queue provides the durable job queue: a JetStream-backed
// Watermill publisher and subscriber, stream provisioning, the
// consumer router with retry and poison queue middleware, and an
// optional embedded NATS server for single-instance deployments.
package queue

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// watermillLogger bridges Watermill's LoggerAdapter onto zerolog so
// queue internals log through the same sink as the rest of the
// process.
type watermillLogger struct {
	log zerolog.Logger
}

// NewWatermillLogger wraps a zerolog logger as a watermill.LoggerAdapter.
func NewWatermillLogger(log zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{log: log.With().Str("component", "queue").Logger()}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.log.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.log.Info(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.log.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.log.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	log := l.log
	for k, v := range fields {
		log = log.With().Interface(k, v).Logger()
	}
	return &watermillLogger{log: log}
}

func (l *watermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
