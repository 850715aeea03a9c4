package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/database"
	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/events"
)

// Tolerance for float comparisons during reconciliation and quantity checks
const tolerance = 1e-9

// ActionSource provides ledger replay access for recomputation
type ActionSource interface {
	ListByOwnerAsset(ownerID, asset string) ([]*domain.TradeAction, error)
}

// Aggregator maintains positions as a fold over the trade ledger.
// Every write path for a given (owner, asset) pair is serialized through
// a per-pair lock; the version column catches anything that slips past.
type Aggregator struct {
	db        *sql.DB
	positions *PositionRepository
	actions   ActionSource
	bus       *events.Bus
	log       zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAggregator creates a new position aggregator
func NewAggregator(db *sql.DB, positions *PositionRepository, actions ActionSource, bus *events.Bus, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		db:        db,
		positions: positions,
		actions:   actions,
		bus:       bus,
		log:       logger.With().Str("service", "aggregator").Logger(),
		locks:     make(map[string]*sync.Mutex),
	}
}

// LockPair serializes writers for one (owner, asset) pair.
// Returns the unlock function.
func (ag *Aggregator) LockPair(ownerID, asset string) func() {
	key := ownerID + "\x00" + asset

	ag.mu.Lock()
	lock, ok := ag.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		ag.locks[key] = lock
	}
	ag.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// ApplyActionTx loads the current position, folds the action into it, and
// writes the result, all within the caller's transaction. The action's
// RealizedPnL field is filled in for exits. The caller must hold the pair
// lock and must insert the action in the same transaction.
func (ag *Aggregator) ApplyActionTx(tx *sql.Tx, a *domain.TradeAction) (*domain.Position, error) {
	pos, err := ag.positions.GetTx(tx, a.OwnerID, a.Asset)
	if err != nil {
		return nil, err
	}

	folded, err := foldAction(pos, a)
	if err != nil {
		return nil, err
	}

	if err := ag.positions.UpsertTx(tx, folded); err != nil {
		return nil, err
	}

	return folded, nil
}

// foldAction applies one trade action to a position state.
// pos may be nil (no prior actions for the pair). The returned position is
// a new value; pos is not mutated. Exits set a.RealizedPnL as a side effect
// so the slice is recorded on the ledger row.
func foldAction(pos *domain.Position, a *domain.TradeAction) (*domain.Position, error) {
	var p domain.Position
	if pos != nil {
		p = *pos
	}

	switch a.Kind {
	case domain.ActionEntry:
		if pos == nil || p.Status == domain.PositionClosed {
			// Fresh cycle. Cumulative realized P&L and fees survive across
			// cycles so the pair's lifetime totals stay on the row.
			p.OwnerID = a.OwnerID
			p.Asset = a.Asset
			p.Direction = a.Direction
			p.Quantity = a.Quantity
			p.AvgEntryPrice = a.Price
			p.AvgExitPrice = 0
			p.ExitedQuantity = 0
			p.Leverage = a.Leverage
			p.Status = domain.PositionOpen
			p.StopPrice = a.StopPrice
			p.TargetPrice = a.TargetPrice
			p.MaxAllocation = a.MaxAllocation
			if pos == nil {
				p.FirstActionAt = a.ExecutedAt
			}
		} else {
			if p.Direction != a.Direction {
				return nil, domain.Validationf("entry direction %s conflicts with open %s position",
					a.Direction, p.Direction)
			}
			newQty := p.Quantity + a.Quantity
			p.AvgEntryPrice = (p.AvgEntryPrice*p.Quantity + a.Price*a.Quantity) / newQty
			p.Leverage = (p.Leverage*p.Quantity + a.Leverage*a.Quantity) / newQty
			p.Quantity = newQty
			p.Status = domain.PositionAccumulating
			if a.StopPrice != nil {
				p.StopPrice = a.StopPrice
			}
			if a.TargetPrice != nil {
				p.TargetPrice = a.TargetPrice
			}
			if a.MaxAllocation != nil {
				p.MaxAllocation = a.MaxAllocation
			}
		}

	case domain.ActionPartialExit, domain.ActionFullExit:
		if pos == nil || !p.IsOpen() {
			return nil, domain.Validationf("cannot exit %s/%s: no open position", a.OwnerID, a.Asset)
		}
		if p.Direction != a.Direction {
			return nil, domain.Validationf("exit direction %s conflicts with open %s position",
				a.Direction, p.Direction)
		}
		if a.Quantity > p.Quantity+tolerance {
			return nil, domain.Validationf("exit quantity %f exceeds open quantity %f",
				a.Quantity, p.Quantity)
		}
		if a.Kind == domain.ActionFullExit && math.Abs(a.Quantity-p.Quantity) > tolerance {
			return nil, domain.Validationf("full exit quantity %f must equal open quantity %f",
				a.Quantity, p.Quantity)
		}

		slice := (a.Price - p.AvgEntryPrice) * a.Quantity * p.Direction.Sign()
		a.RealizedPnL = slice
		p.RealizedPnL += slice

		newExited := p.ExitedQuantity + a.Quantity
		p.AvgExitPrice = (p.AvgExitPrice*p.ExitedQuantity + a.Price*a.Quantity) / newExited
		p.ExitedQuantity = newExited
		p.Quantity -= a.Quantity

		if p.Quantity <= tolerance {
			// Snap to exactly zero and freeze averages as-is.
			p.Quantity = 0
			p.Status = domain.PositionClosed
		} else {
			p.Status = domain.PositionReducing
		}

	case domain.ActionModifyRisk:
		if pos == nil {
			return nil, domain.Validationf("cannot modify risk for %s/%s: no position", a.OwnerID, a.Asset)
		}
		if a.StopPrice != nil {
			p.StopPrice = a.StopPrice
		}
		if a.TargetPrice != nil {
			p.TargetPrice = a.TargetPrice
			if p.IsOpen() {
				p.Status = domain.PositionExitPlanned
			}
		}
		if a.MaxAllocation != nil {
			p.MaxAllocation = a.MaxAllocation
		}

	default:
		return nil, domain.Validationf("unknown action kind %q", a.Kind)
	}

	p.TotalFees += a.Fees
	p.LastActionAt = a.ExecutedAt

	return &p, nil
}

// Replay rebuilds a position purely from the ledger without writing anything.
// Returns nil when the pair has no actions.
func (ag *Aggregator) Replay(ctx context.Context, ownerID, asset string) (*domain.Position, error) {
	actions, err := ag.actions.ListByOwnerAsset(ownerID, asset)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, nil
	}

	var pos *domain.Position
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Replay works on copies; the ledger rows already carry their slices.
		replayAction := *a
		pos, err = foldAction(pos, &replayAction)
		if err != nil {
			return nil, fmt.Errorf("replay of %s/%s broke at action %d: %w", ownerID, asset, a.ID, err)
		}
	}

	return pos, nil
}

// Recompute replays the full ledger for a pair and persists the result.
// This is the repair path: it overwrites whatever incremental state exists
// and clears the audit flag.
func (ag *Aggregator) Recompute(ctx context.Context, ownerID, asset string) (*domain.Position, error) {
	unlock := ag.LockPair(ownerID, asset)
	defer unlock()

	replayed, err := ag.Replay(ctx, ownerID, asset)
	if err != nil {
		return nil, err
	}
	if replayed == nil {
		return nil, domain.NotFoundf("no ledger entries for %s/%s", ownerID, asset)
	}

	err = database.WithTransaction(ag.db, func(tx *sql.Tx) error {
		stored, err := ag.positions.GetTx(tx, ownerID, asset)
		if err != nil {
			return err
		}
		if stored != nil {
			replayed.Version = stored.Version
		}
		replayed.AuditFlagged = false
		return ag.positions.UpsertTx(tx, replayed)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist recomputed position %s/%s: %w", ownerID, asset, err)
	}

	ag.emitPositionChanged(replayed)
	ag.log.Info().Str("owner", ownerID).Str("asset", asset).Msg("Position recomputed from ledger")

	return replayed, nil
}

// Divergence describes one field that did not match during reconciliation
type Divergence struct {
	Field       string  `json:"field"`
	Incremental float64 `json:"incremental"`
	Recomputed  float64 `json:"recomputed"`
}

// Reconcile compares the incrementally maintained position against a full
// replay. On divergence the recomputed value is adopted as authoritative,
// the position is flagged for audit, and ErrReconciliationMismatch is
// returned alongside the corrected position.
func (ag *Aggregator) Reconcile(ctx context.Context, ownerID, asset string) (*domain.Position, []Divergence, error) {
	unlock := ag.LockPair(ownerID, asset)
	defer unlock()

	replayed, err := ag.Replay(ctx, ownerID, asset)
	if err != nil {
		return nil, nil, err
	}
	if replayed == nil {
		return nil, nil, domain.NotFoundf("no ledger entries for %s/%s", ownerID, asset)
	}

	stored, err := ag.positions.Get(ownerID, asset)
	if errors.Is(err, domain.ErrNotFound) {
		// Ledger has actions but no position row exists. Adopt the replay.
		replayed.AuditFlagged = true
		werr := database.WithTransaction(ag.db, func(tx *sql.Tx) error {
			return ag.positions.UpsertTx(tx, replayed)
		})
		if werr != nil {
			return nil, nil, fmt.Errorf("failed to restore missing position %s/%s: %w", ownerID, asset, werr)
		}
		ag.emitPositionChanged(replayed)
		return replayed, []Divergence{{Field: "quantity", Recomputed: replayed.Quantity}},
			fmt.Errorf("position %s/%s missing: %w", ownerID, asset, domain.ErrReconciliationMismatch)
	}
	if err != nil {
		return nil, nil, err
	}

	divergences := comparePositions(stored, replayed)
	if len(divergences) == 0 {
		return stored, nil, nil
	}

	for _, d := range divergences {
		ag.log.Warn().
			Str("owner", ownerID).
			Str("asset", asset).
			Str("field", d.Field).
			Float64("incremental", d.Incremental).
			Float64("recomputed", d.Recomputed).
			Msg("Reconciliation divergence detected")

		ag.bus.Emit(events.ReconciliationFailed, events.ReconciliationFailedData{
			OwnerID:     ownerID,
			Asset:       asset,
			Field:       d.Field,
			Incremental: d.Incremental,
			Recomputed:  d.Recomputed,
		})
	}

	// The ledger is the source of truth: adopt the replayed state and keep
	// the flag set so the pair shows up in the audit queue.
	replayed.Version = stored.Version
	replayed.AuditFlagged = true
	err = database.WithTransaction(ag.db, func(tx *sql.Tx) error {
		return ag.positions.UpsertTx(tx, replayed)
	})
	if err != nil {
		return nil, divergences, fmt.Errorf("failed to adopt recomputed position %s/%s: %w", ownerID, asset, err)
	}

	ag.emitPositionChanged(replayed)

	return replayed, divergences, fmt.Errorf("position %s/%s: %w", ownerID, asset, domain.ErrReconciliationMismatch)
}

// ReconcileAll runs reconciliation over every non-closed position.
// Per-pair errors are logged and counted, never fatal to the sweep.
func (ag *Aggregator) ReconcileAll(ctx context.Context) (checked, mismatched int, err error) {
	positions, err := ag.positions.ListOpen()
	if err != nil {
		return 0, 0, err
	}

	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			return checked, mismatched, err
		}

		_, _, rerr := ag.Reconcile(ctx, pos.OwnerID, pos.Asset)
		checked++
		if rerr != nil {
			if isMismatch(rerr) {
				mismatched++
				continue
			}
			ag.log.Error().Err(rerr).
				Str("owner", pos.OwnerID).
				Str("asset", pos.Asset).
				Msg("Reconciliation pass failed for pair")
		}
	}

	ag.log.Info().Int("checked", checked).Int("mismatched", mismatched).Msg("Reconciliation sweep complete")
	return checked, mismatched, nil
}

func isMismatch(err error) bool {
	return errors.Is(err, domain.ErrReconciliationMismatch)
}

func comparePositions(stored, replayed *domain.Position) []Divergence {
	checks := []struct {
		field       string
		stored, rep float64
	}{
		{"quantity", stored.Quantity, replayed.Quantity},
		{"avg_entry_price", stored.AvgEntryPrice, replayed.AvgEntryPrice},
		{"avg_exit_price", stored.AvgExitPrice, replayed.AvgExitPrice},
		{"exited_quantity", stored.ExitedQuantity, replayed.ExitedQuantity},
		{"realized_pnl", stored.RealizedPnL, replayed.RealizedPnL},
		{"total_fees", stored.TotalFees, replayed.TotalFees},
	}

	var divergences []Divergence
	for _, c := range checks {
		if math.Abs(c.stored-c.rep) > tolerance {
			divergences = append(divergences, Divergence{
				Field:       c.field,
				Incremental: c.stored,
				Recomputed:  c.rep,
			})
		}
	}
	return divergences
}

func (ag *Aggregator) emitPositionChanged(p *domain.Position) {
	ag.bus.Emit(events.PositionChanged, events.PositionChangedData{
		OwnerID:  p.OwnerID,
		Asset:    p.Asset,
		Quantity: p.Quantity,
		Status:   string(p.Status),
		Version:  p.Version,
	})
}
