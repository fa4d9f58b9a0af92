// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package models

// ActorKind distinguishes pipeline-initiated writes from user writes.
type ActorKind string

const (
	ActorSystem ActorKind = "system"
	ActorUser   ActorKind = "user"
)

// Actor identifies who performed a mutating operation. There is no
// implicit service identity: scheduled jobs pass SystemActor explicitly
// and audit rows record the tag.
type Actor struct {
	Kind ActorKind
	ID   string
}

// SystemActor returns the identity used by scheduled pipeline jobs.
func SystemActor() Actor {
	return Actor{Kind: ActorSystem, ID: "pipeline"}
}

// UserActor returns an identity for a user-initiated operation.
func UserActor(id string) Actor {
	return Actor{Kind: ActorUser, ID: id}
}

// System reports whether the actor is the pipeline identity.
func (a Actor) System() bool { return a.Kind == ActorSystem }

// String renders the actor for log and ledger rows.
func (a Actor) String() string {
	return string(a.Kind) + ":" + a.ID
}
