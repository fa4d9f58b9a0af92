// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package gateway talks to the outbound messaging providers: the
// AlimTalk business-message API for guardians and a Telegram bot used
// as an operator monitoring channel. It also resolves notification
// templates, tenant overrides first, built-in defaults second.
package gateway

import (
	"context"

	"github.com/goldpen/rollcall/internal/models"
)

// SendRequest is one guardian message.
type SendRequest struct {
	TenantID  string
	StudentID string
	Kind      models.NotificationKind

	// Recipient is the destination phone number.
	Recipient string

	// Body is the rendered message text.
	Body string
}

// SendResult reports the provider outcome of one send.
type SendResult struct {
	// Delivered is true when the provider accepted the message, or in
	// no-op mode.
	Delivered bool

	// NoOp is true when the gateway has no provider credentials and
	// the send was skipped. Unconfigured deployments flow through the
	// pipeline without a provider account.
	NoOp bool

	// ProviderID is the provider's message or group ID.
	ProviderID string

	// ErrorCode carries the provider failure code when not delivered.
	ErrorCode string
}

// Client sends guardian messages.
type Client interface {
	// Send delivers one message. Provider rejections come back inside
	// SendResult; an error return means an infrastructure failure
	// worth retrying.
	Send(ctx context.Context, req SendRequest) (SendResult, error)

	// Configured reports whether provider credentials are present.
	Configured() bool
}

// Monitor is the secondary operator channel. It is fired in parallel
// with guardian sends and is never balance-gated.
type Monitor interface {
	// Notify posts an operator message. Missing configuration is a
	// silent no-op.
	Notify(ctx context.Context, text string) error
}
