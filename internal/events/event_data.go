package events

import "time"

// TradeAppendedData carries the details of a committed trade action
type TradeAppendedData struct {
	ActionID   int64
	OwnerID    string
	Asset      string
	Kind       string
	ExecutedAt time.Time
}

// PositionChangedData carries the new state of a position after a fold
type PositionChangedData struct {
	OwnerID  string
	Asset    string
	Quantity float64
	Status   string
	Version  int64
}

// SnapshotStoredData carries the identity of a newly ingested snapshot
type SnapshotStoredData struct {
	SnapshotID string
	Layer      string
	Label      string
	Confidence float64
	ObservedAt time.Time
}

// RecommendationsReadyData summarizes an advisor sweep result
type RecommendationsReadyData struct {
	OwnerID string
	Count   int
}

// ReconciliationFailedData carries the divergence found by a reconcile pass
type ReconciliationFailedData struct {
	OwnerID     string
	Asset       string
	Field       string
	Incremental float64
	Recomputed  float64
}
