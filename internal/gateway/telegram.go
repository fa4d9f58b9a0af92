// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram posts operator notifications to a monitoring chat. It never
// gates on tenant balance, and a missing token turns Notify into a
// silent no-op.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewTelegram creates the monitor channel.
func NewTelegram(token, chatID string, log zerolog.Logger) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "telegram").Logger(),
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Notify posts text to the monitoring chat in HTML parse mode.
// Monitoring is best effort: callers log failures and move on.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	if t.token == "" || t.chatID == "" {
		return nil
	}

	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}

	var decoded telegramResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !decoded.OK {
		if decoded.Parameters.RetryAfter > 0 {
			t.log.Warn().Int("retry_after", decoded.Parameters.RetryAfter).
				Msg("telegram rate limited")
		}
		return fmt.Errorf("telegram error %d: %s", decoded.ErrorCode, decoded.Description)
	}
	return nil
}

var _ Monitor = (*Telegram)(nil)
