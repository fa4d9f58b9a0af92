// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/goldpen/rollcall/internal/config"
)

// StreamManager provisions the job stream before publishers and
// subscribers attach to it.
type StreamManager struct {
	js  jetstream.JetStream
	cfg config.NATSConfig
}

// NewStreamManager creates a stream manager over an existing NATS
// connection.
func NewStreamManager(nc *nats.Conn, cfg config.NATSConfig) (*StreamManager, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &StreamManager{js: js, cfg: cfg}, nil
}

// EnsureStream creates or updates the job stream. Jobs age out after a
// day since a minute tick is worthless once its day has passed, and the
// duplicate window absorbs producer republishes of the same job ID.
func (m *StreamManager) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:        m.cfg.StreamName,
		Subjects:    []string{m.cfg.Subject, m.cfg.Subject + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxBytes:    1 << 30,
		MaxMsgs:     -1,
		Duplicates:  2 * time.Minute,
		Replicas:    1,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		AllowRollup: true,
	}

	_, err := m.js.Stream(ctx, m.cfg.StreamName)
	if err == nil {
		stream, err := m.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream: %w", err)
		}
		return stream, nil
	}

	stream, err := m.js.CreateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return stream, nil
}

// StreamInfo returns current stream state.
func (m *StreamManager) StreamInfo(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := m.js.Stream(ctx, m.cfg.StreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return stream.Info(ctx)
}
