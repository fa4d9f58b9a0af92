// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package models

// NotificationKind identifies a notification condition. It keys both
// template resolution and the per-day dedup guard.
type NotificationKind string

const (
	KindCheckIn     NotificationKind = "checkin"
	KindCheckOut    NotificationKind = "checkout"
	KindOuting      NotificationKind = "outing"
	KindReturn      NotificationKind = "return"
	KindLate        NotificationKind = "late"
	KindAbsent      NotificationKind = "absent"
	KindDailyReport NotificationKind = "daily_report"
	KindAssignment  NotificationKind = "assignment_remind"
)

// Valid reports whether k is a known notification kind.
func (k NotificationKind) Valid() bool {
	switch k {
	case KindCheckIn, KindCheckOut, KindOuting, KindReturn,
		KindLate, KindAbsent, KindDailyReport, KindAssignment:
		return true
	}
	return false
}

// Instant reports whether k is produced by the presence state machine
// and delivered through the notification queue drain.
func (k NotificationKind) Instant() bool {
	switch k {
	case KindCheckIn, KindCheckOut, KindOuting, KindReturn:
		return true
	}
	return false
}
