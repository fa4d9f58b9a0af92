// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goldpen/rollcall/internal/logging"
)

func TestNotifyNoopWithoutToken(t *testing.T) {
	tg := NewTelegram("", "", logging.NewTestLogger(io.Discard))
	if err := tg.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("missing token should be a no-op: %v", err)
	}
}

func TestNotifyPostsMessage(t *testing.T) {
	var gotPath, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tg := NewTelegram("bot-token", "chat-1", logging.NewTestLogger(io.Discard))
	tg.baseURL = server.URL

	if err := tg.Notify(context.Background(), "<b>late</b> Kim"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotPath != "/botbot-token/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotBody, "chat_id=chat-1") || !strings.Contains(gotBody, "parse_mode=HTML") {
		t.Errorf("body = %q", gotBody)
	}
}

func TestNotifyAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`))
	}))
	defer server.Close()

	tg := NewTelegram("bot-token", "chat-1", logging.NewTestLogger(io.Discard))
	tg.baseURL = server.URL

	if err := tg.Notify(context.Background(), "x"); err == nil {
		t.Fatal("expected error from api rejection")
	}
}
