// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package models

import (
	"fmt"
	"regexp"

	"github.com/goccy/go-json"
)

// Default tenant settings applied when the stored JSON omits a field.
const (
	DefaultDailyReportTime  = "22:00"
	DefaultLateGraceMinutes = 10
)

// AbsentFallbackMinutes is the window after expected check-in used to
// declare absence when a commute schedule has no check-out time.
const AbsentFallbackMinutes = 120

var hhmmPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// TenantSettings is the typed form of a tenant's settings document.
// The store parses the JSON column exactly once per tenant load; every
// consumer works with this struct, never the raw document.
type TenantSettings struct {
	// Templates maps a notification kind to a tenant override template.
	// Kinds absent from the map fall back to the built-in defaults.
	Templates map[NotificationKind]string `json:"templates"`

	// DailyReportTime is the HH:MM minute the daily report job fires.
	DailyReportTime string `json:"dailyReportTime"`

	// LateGraceMinutes is how long past the expected check-in a student
	// may arrive before the late notification fires.
	LateGraceMinutes int `json:"lateGraceMinutes"`

	// Timezone optionally overrides the deployment zone for this
	// tenant's schedule matching. Empty means the deployment default.
	Timezone string `json:"timezone"`
}

// DefaultTenantSettings returns settings with all defaults applied.
func DefaultTenantSettings() TenantSettings {
	return TenantSettings{
		Templates:        map[NotificationKind]string{},
		DailyReportTime:  DefaultDailyReportTime,
		LateGraceMinutes: DefaultLateGraceMinutes,
	}
}

// ParseTenantSettings decodes a stored settings document and fills in
// defaults. A nil or empty document yields pure defaults. Malformed
// documents are rejected rather than silently defaulted so that a bad
// tenant row surfaces at load time, not at send time.
func ParseTenantSettings(raw []byte) (TenantSettings, error) {
	s := DefaultTenantSettings()
	if len(raw) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(raw, &s); err != nil {
		return TenantSettings{}, fmt.Errorf("parse tenant settings: %w", err)
	}

	if s.Templates == nil {
		s.Templates = map[NotificationKind]string{}
	}
	if s.DailyReportTime == "" {
		s.DailyReportTime = DefaultDailyReportTime
	}
	if !hhmmPattern.MatchString(s.DailyReportTime) {
		return TenantSettings{}, fmt.Errorf("parse tenant settings: invalid dailyReportTime %q", s.DailyReportTime)
	}
	if s.LateGraceMinutes <= 0 {
		s.LateGraceMinutes = DefaultLateGraceMinutes
	}

	return s, nil
}

// Template returns the tenant override for kind, or "" when the tenant
// has none and the built-in default applies.
func (s TenantSettings) Template(kind NotificationKind) string {
	return s.Templates[kind]
}
