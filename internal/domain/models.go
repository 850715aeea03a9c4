// Package domain provides core domain models and types.
package domain

import (
	"strings"
	"time"
)

// ActionKind represents the kind of a trade action
type ActionKind string

const (
	// ActionEntry opens or increases a position
	ActionEntry ActionKind = "ENTRY"
	// ActionPartialExit reduces a position without closing it
	ActionPartialExit ActionKind = "PARTIAL_EXIT"
	// ActionFullExit closes the remaining quantity of a position
	ActionFullExit ActionKind = "FULL_EXIT"
	// ActionModifyRisk changes stop/target/allocation limits without trading
	ActionModifyRisk ActionKind = "MODIFY_RISK"
)

// Direction represents the direction of a position
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Sign returns +1 for long and -1 for short positions
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// ActionSource tags where a trade action originated
type ActionSource string

const (
	SourceManual    ActionSource = "manual"
	SourceSignal    ActionSource = "signal"
	SourceCopyTrade ActionSource = "copy_trade"
	SourceAutomated ActionSource = "automated"
)

// TradeAction is an immutable fact in the ledger. Corrections are new
// compensating actions; no update or delete path exists.
type TradeAction struct {
	ID            int64        `json:"id"`
	OwnerID       string       `json:"owner_id"`
	Asset         string       `json:"asset"`
	AssetMeta     string       `json:"asset_meta,omitempty"` // JSON, for externally-referenced assets
	Kind          ActionKind   `json:"kind"`
	Direction     Direction    `json:"direction"`
	Price         float64      `json:"price"`
	Quantity      float64      `json:"quantity"`
	Leverage      float64      `json:"leverage"` // 1.0 = no leverage
	Fees          float64      `json:"fees"`
	RealizedPnL   float64      `json:"realized_pnl"`      // zero unless the action reduces/closes
	Context       string       `json:"context,omitempty"` // JSON execution context (sentiment, patterns, ...)
	StopPrice     *float64     `json:"stop_price,omitempty"`
	TargetPrice   *float64     `json:"target_price,omitempty"`
	MaxAllocation *float64     `json:"max_allocation_pct,omitempty"`
	Source        ActionSource `json:"source"`
	ActingAdmin   string       `json:"acting_admin,omitempty"` // audit field for admin overrides
	ExecutedAt    time.Time    `json:"executed_at"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Validate checks the action against ledger constraints. Exit quantity
// bounds are checked against the live position by the aggregator, not here.
func (a *TradeAction) Validate() error {
	if strings.TrimSpace(a.OwnerID) == "" {
		return Validationf("owner_id is required")
	}
	if strings.TrimSpace(a.Asset) == "" {
		return Validationf("asset is required")
	}
	switch a.Kind {
	case ActionEntry, ActionPartialExit, ActionFullExit, ActionModifyRisk:
	default:
		return Validationf("unknown action kind %q", a.Kind)
	}
	switch a.Direction {
	case DirectionLong, DirectionShort:
	default:
		return Validationf("unknown direction %q", a.Direction)
	}
	if a.Kind != ActionModifyRisk {
		if a.Quantity <= 0 {
			return Validationf("quantity must be positive, got %f", a.Quantity)
		}
		if a.Price <= 0 {
			return Validationf("price must be positive, got %f", a.Price)
		}
	}
	if a.Leverage <= 0 {
		return Validationf("leverage must be positive, got %f", a.Leverage)
	}
	if a.Fees < 0 {
		return Validationf("fees cannot be negative, got %f", a.Fees)
	}
	if a.StopPrice != nil && *a.StopPrice <= 0 {
		return Validationf("stop price must be positive")
	}
	if a.TargetPrice != nil && *a.TargetPrice <= 0 {
		return Validationf("target price must be positive")
	}
	if a.MaxAllocation != nil && (*a.MaxAllocation <= 0 || *a.MaxAllocation > 100) {
		return Validationf("max allocation must be in (0, 100]")
	}
	return nil
}

// IsExit reports whether the action reduces or closes a position
func (a *TradeAction) IsExit() bool {
	return a.Kind == ActionPartialExit || a.Kind == ActionFullExit
}

// PositionStatus represents the lifecycle status of a position
type PositionStatus string

const (
	PositionOpen         PositionStatus = "open"
	PositionAccumulating PositionStatus = "accumulating"
	PositionReducing     PositionStatus = "reducing"
	PositionExitPlanned  PositionStatus = "exit_planned"
	PositionClosed       PositionStatus = "closed"
)

// Position is the derived aggregate for one (owner, asset) pair. It is a
// pure function of the ledger: quantity and averages must always equal the
// fold of all trade actions for the pair.
type Position struct {
	OwnerID        string         `json:"owner_id"`
	Asset          string         `json:"asset"`
	Direction      Direction      `json:"direction"`
	Quantity       float64        `json:"quantity"`
	AvgEntryPrice  float64        `json:"avg_entry_price"`
	AvgExitPrice   float64        `json:"avg_exit_price"`
	ExitedQuantity float64        `json:"exited_quantity"`
	RealizedPnL    float64        `json:"realized_pnl"`
	TotalFees      float64        `json:"total_fees"`
	Leverage       float64        `json:"leverage"`
	Status         PositionStatus `json:"status"`
	StopPrice      *float64       `json:"stop_price,omitempty"`
	TargetPrice    *float64       `json:"target_price,omitempty"`
	MaxAllocation  *float64       `json:"max_allocation_pct,omitempty"`
	Version        int64          `json:"version"`
	AuditFlagged   bool           `json:"audit_flagged"`
	FirstActionAt  time.Time      `json:"first_action_at"`
	LastActionAt   time.Time      `json:"last_action_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CostBasis returns the remaining cost basis of the position
func (p *Position) CostBasis() float64 {
	return p.Quantity * p.AvgEntryPrice
}

// IsOpen reports whether the position still holds quantity
func (p *Position) IsOpen() bool {
	return p.Status != PositionClosed && p.Quantity > 0
}

// NormalizeAsset uppercases and trims an asset symbol
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
