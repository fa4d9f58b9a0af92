// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package pipeline

import (
	"errors"
	"fmt"
)

// Domain error kinds. Handlers treat these as expected outcomes: they
// are logged and absorbed, never returned to the queue for redelivery.
var (
	// ErrIllegalTransition signals a presence operation that is not
	// valid in the current state, such as starting sleep without an
	// open session.
	ErrIllegalTransition = errors.New("illegal presence transition")

	// ErrInsufficientBalance signals a credit deduction that would
	// drive the tenant balance negative.
	ErrInsufficientBalance = errors.New("insufficient credit balance")

	// ErrConfigurationMissing signals an operation that needs provider
	// or tenant configuration that is not present.
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrUnknownJobType signals a message whose type field is not a
	// known job type. Redelivery cannot fix it.
	ErrUnknownJobType = errors.New("unknown job type")
)

// TransientError marks an infrastructure failure worth retrying. Only
// the outermost dispatch layer translates it into a queue nack; all
// other error kinds are terminal for the message.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Transientf formats a retryable error.
func Transientf(format string, args ...interface{}) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
