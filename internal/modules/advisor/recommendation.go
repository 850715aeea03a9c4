// Package advisor generates and manages recommendations derived from
// positions, watchlists, and market context snapshots.
package advisor

import (
	"time"
)

// Status is the lifecycle state of a recommendation
type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusImplemented Status = "implemented"
	StatusRejected    Status = "rejected"
	StatusExpired     Status = "expired"
)

// Terminal reports whether the status permits no further transitions
func (s Status) Terminal() bool {
	switch s {
	case StatusImplemented, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Terminal states are immutable; corrections happen by superseding.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected ||
			next == StatusExpired || next == StatusImplemented
	case StatusApproved:
		return next == StatusImplemented || next == StatusExpired
	}
	return false
}

// TargetKind identifies what a recommendation is about
type TargetKind string

const (
	TargetPosition  TargetKind = "position"
	TargetWatchlist TargetKind = "watchlist"
	TargetAsset     TargetKind = "asset"
	TargetOwner     TargetKind = "owner"
)

// RecType classifies the suggested action
type RecType string

const (
	TypeEntry          RecType = "entry"
	TypeExit           RecType = "exit"
	TypeRebalance      RecType = "rebalance"
	TypeRiskAdjustment RecType = "risk_adjustment"
	TypeAllocation     RecType = "allocation"
	TypeEducational    RecType = "educational"
)

// Recommendation is one suggested action for an owner. Records are never
// edited after reaching a terminal state; an admin override clones into a
// fresh pending record linked through SupersededBy.
type Recommendation struct {
	UUID         string     `json:"uuid"`
	OwnerID      string     `json:"owner_id"`
	TargetKind   TargetKind `json:"target_kind"`
	TargetRef    string     `json:"target_ref"`
	Type         RecType    `json:"type"`
	Payload      string     `json:"payload,omitempty"` // JSON describing the suggested action
	Confidence   float64    `json:"confidence"`
	Priority     int        `json:"priority"`
	Status       Status     `json:"status"`
	SnapshotIDs  string     `json:"snapshot_ids,omitempty"` // JSON array, audit trail
	TriggerKey   string     `json:"trigger_key"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ActedBy      string     `json:"acted_by,omitempty"`
	SupersededBy string     `json:"superseded_by,omitempty"`
	AvgRating    float64    `json:"avg_rating"`
	RatingCount  int        `json:"rating_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
