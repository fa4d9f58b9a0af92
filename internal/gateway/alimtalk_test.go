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
	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/pipeline"
)

func TestSendNoOpWithoutCredentials(t *testing.T) {
	a := NewAlimTalk(AlimTalkConfig{}, logging.NewTestLogger(io.Discard))

	if a.Configured() {
		t.Fatal("empty config should not be Configured")
	}
	res, err := a.Send(context.Background(), SendRequest{
		TenantID: "t1", StudentID: "st1", Kind: models.KindCheckIn,
		Recipient: "010-1234-5678", Body: "hello",
	})
	if err != nil {
		t.Fatalf("no-op send: %v", err)
	}
	if !res.Delivered || !res.NoOp {
		t.Errorf("result = %+v, want delivered no-op", res)
	}
}

func TestSendPostsToProvider(t *testing.T) {
	var gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"groupId":"G1","messageId":"M1","statusCode":"2000"}`))
	}))
	defer server.Close()

	a := NewAlimTalk(AlimTalkConfig{
		BaseURL:   server.URL,
		APIKey:    "key",
		APISecret: "secret",
		PfID:      "pf-1",
		Sender:    "0215550000",
	}, logging.NewTestLogger(io.Discard))

	res, err := a.Send(context.Background(), SendRequest{
		TenantID: "t1", Kind: models.KindCheckIn,
		Recipient: "010-1234-5678", Body: "안내 메시지",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Delivered || res.ProviderID != "M1" {
		t.Errorf("result = %+v", res)
	}

	if !strings.HasPrefix(gotAuth, "HMAC-SHA256 apiKey=key,") {
		t.Errorf("auth header = %q", gotAuth)
	}
	for _, part := range []string{"date=", "salt=", "signature="} {
		if !strings.Contains(gotAuth, part) {
			t.Errorf("auth header missing %s: %q", part, gotAuth)
		}
	}
	if !strings.Contains(gotBody, `"to":"01012345678"`) {
		t.Errorf("phone not normalized: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"pfId":"pf-1"`) {
		t.Errorf("missing kakao options: %s", gotBody)
	}
}

func TestSendProviderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"statusCode":"4001","statusMessage":"invalid recipient"}`))
	}))
	defer server.Close()

	a := NewAlimTalk(AlimTalkConfig{
		BaseURL: server.URL, APIKey: "key", APISecret: "secret", Sender: "02000",
	}, logging.NewTestLogger(io.Discard))

	res, err := a.Send(context.Background(), SendRequest{
		Recipient: "01000000000", Body: "x", Kind: models.KindLate,
	})
	if err != nil {
		t.Fatalf("rejection should be in-band, got err %v", err)
	}
	if res.Delivered || res.ErrorCode != "4001" {
		t.Errorf("result = %+v", res)
	}
}

func TestSendServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	a := NewAlimTalk(AlimTalkConfig{
		BaseURL: server.URL, APIKey: "key", APISecret: "secret", Sender: "02000",
	}, logging.NewTestLogger(io.Discard))

	_, err := a.Send(context.Background(), SendRequest{
		Recipient: "01000000000", Body: "x", Kind: models.KindLate,
	})
	if !pipeline.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestSignRequestIsDeterministic(t *testing.T) {
	a := signRequest("secret", "2026-03-04T00:00:00Z", "salt123")
	b := signRequest("secret", "2026-03-04T00:00:00Z", "salt123")
	if a != b {
		t.Error("same inputs should produce the same signature")
	}
	if len(a) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(a))
	}
	if signRequest("other", "2026-03-04T00:00:00Z", "salt123") == a {
		t.Error("different secret should change the signature")
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct{ in, want string }{
		{"010-1234-5678", "01012345678"},
		{"+82 10 1234 5678", "821012345678"},
		{"01012345678", "01012345678"},
	}
	for _, tt := range tests {
		if got := normalizePhone(tt.in); got != tt.want {
			t.Errorf("normalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
