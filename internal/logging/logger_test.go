// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))

	logger := Component("producer")
	logger.Info().Msg("tick")

	out := buf.String()
	if !strings.Contains(out, `"component":"producer"`) {
		t.Errorf("missing component field: %s", out)
	}
	if !strings.Contains(out, `"message":"tick"`) {
		t.Errorf("missing message: %s", out)
	}
}

func TestCtxCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))

	ctx := WithCorrelationID(context.Background(), "abc-123")
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Fatalf("CorrelationID = %q", got)
	}

	logger := Ctx(ctx)
	logger.Info().Msg("handled")
	if !strings.Contains(buf.String(), `"correlation_id":"abc-123"`) {
		t.Errorf("missing correlation_id: %s", buf.String())
	}
}

func TestWithCorrelationIDGenerates(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	if CorrelationID(ctx) == "" {
		t.Error("expected generated correlation ID")
	}
}
