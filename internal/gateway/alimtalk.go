// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/goldpen/rollcall/internal/pipeline"
)

// AlimTalkConfig configures the business-message provider client.
type AlimTalkConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string

	// PfID is the registered Kakao channel profile.
	PfID string

	// Sender is the registered sender phone number.
	Sender string

	RequestTimeout time.Duration
	RatePerSecond  float64
}

// AlimTalk sends guardian messages through a Solapi-compatible API.
// With empty credentials the client runs in no-op mode: Send reports
// success without any provider call, so development tenants exercise
// the whole pipeline.
type AlimTalk struct {
	cfg     AlimTalkConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[SendResult]
	log     zerolog.Logger
}

// NewAlimTalk creates the provider client.
func NewAlimTalk(cfg AlimTalkConfig, log zerolog.Logger) *AlimTalk {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	breaker := gobreaker.NewCircuitBreaker[SendResult](gobreaker.Settings{
		Name:        "alimtalk",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &AlimTalk{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(limit, 1),
		breaker: breaker,
		log:     log.With().Str("component", "alimtalk").Logger(),
	}
}

// Configured reports whether provider credentials are present.
func (a *AlimTalk) Configured() bool {
	return a.cfg.APIKey != "" && a.cfg.APISecret != ""
}

type sendPayload struct {
	Message sendMessage `json:"message"`
}

type sendMessage struct {
	To           string        `json:"to"`
	From         string        `json:"from"`
	Text         string        `json:"text"`
	KakaoOptions *kakaoOptions `json:"kakaoOptions,omitempty"`
}

type kakaoOptions struct {
	PfID string `json:"pfId"`
}

type sendResponse struct {
	GroupID       string `json:"groupId"`
	MessageID     string `json:"messageId"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

// Send delivers one guardian message. Rate limiting applies before the
// provider call; the circuit breaker opens after repeated transport
// failures so a provider outage does not pile up goroutines.
func (a *AlimTalk) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if !a.Configured() {
		a.log.Debug().Str("tenant", req.TenantID).Str("kind", string(req.Kind)).
			Msg("no provider credentials, skipping send")
		return SendResult{Delivered: true, NoOp: true}, nil
	}
	if req.Recipient == "" {
		return SendResult{}, fmt.Errorf("send %s: recipient: %w", req.Kind, pipeline.ErrConfigurationMissing)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return SendResult{}, pipeline.Transient(fmt.Errorf("rate limit wait: %w", err))
	}

	result, err := a.breaker.Execute(func() (SendResult, error) {
		return a.post(ctx, req)
	})
	if err != nil {
		return SendResult{}, pipeline.Transient(fmt.Errorf("alimtalk send: %w", err))
	}
	return result, nil
}

func (a *AlimTalk) post(ctx context.Context, req SendRequest) (SendResult, error) {
	payload := sendPayload{
		Message: sendMessage{
			To:   normalizePhone(req.Recipient),
			From: a.cfg.Sender,
			Text: req.Body,
		},
	}
	if a.cfg.PfID != "" {
		payload.Message.KakaoOptions = &kakaoOptions{PfID: a.cfg.PfID}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(a.cfg.BaseURL, "/")+"/messages/v4/send", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", a.authHeader(time.Now()))

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return SendResult{}, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return SendResult{}, fmt.Errorf("provider status %d: %s", resp.StatusCode, data)
	}

	var decoded sendResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return SendResult{}, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Client-side rejection. Not retryable, reported in-band.
		a.log.Warn().Int("status", resp.StatusCode).Str("code", decoded.StatusCode).
			Str("tenant", req.TenantID).Msg("provider rejected message")
		return SendResult{Delivered: false, ErrorCode: decoded.StatusCode}, nil
	}

	id := decoded.MessageID
	if id == "" {
		id = decoded.GroupID
	}
	return SendResult{Delivered: true, ProviderID: id}, nil
}

// authHeader builds the provider HMAC header: the signature is
// HMAC-SHA256(date + salt) with the API secret, hex encoded.
func (a *AlimTalk) authHeader(now time.Time) string {
	date := now.UTC().Format(time.RFC3339)
	salt := randomSalt()
	sig := signRequest(a.cfg.APISecret, date, salt)
	return fmt.Sprintf("HMAC-SHA256 apiKey=%s, date=%s, salt=%s, signature=%s",
		a.cfg.APIKey, date, salt, sig)
}

func signRequest(secret, date, salt string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(date + salt))
	return hex.EncodeToString(mac.Sum(nil))
}

func randomSalt() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// normalizePhone strips separators so stored numbers in any common
// format reach the provider as digits.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var _ Client = (*AlimTalk)(nil)
