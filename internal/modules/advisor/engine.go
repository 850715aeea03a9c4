package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/events"
	"github.com/aristath/vantage/internal/modules/marketdata"
)

// PositionSource provides the open positions the engine evaluates
type PositionSource interface {
	ListOpen() ([]*domain.Position, error)
}

// SnapshotSource provides current market context
type SnapshotSource interface {
	Latest(layer marketdata.Layer) (*marketdata.Snapshot, error)
	LatestPerLabel(layer marketdata.Layer) ([]*marketdata.Snapshot, error)
}

// WatchlistSource answers which assets owners already track
type WatchlistSource interface {
	Owners() ([]string, error)
	IsWatched(ownerID, asset string) (bool, error)
}

// EngineConfig tunes trigger evaluation
type EngineConfig struct {
	MinConfidence      float64       // gate: weaker recommendations are discarded
	DefaultExpiry      time.Duration // recommendations expire this long after creation
	RiskAlertThreshold float64       // absolute score beyond which a trigger fires
}

// Engine runs recommendation sweeps. Sweeps are idempotent: an unchanged
// trigger condition inside the dedupe window produces nothing new, so
// re-running after a crash or overlap is safe.
type Engine struct {
	repo      *RecommendationRepository
	positions PositionSource
	snapshots SnapshotSource
	watch     WatchlistSource
	bus       *events.Bus
	cfg       EngineConfig
	log       zerolog.Logger
}

// NewEngine creates a new recommendation engine
func NewEngine(repo *RecommendationRepository, positions PositionSource, snapshots SnapshotSource, watch WatchlistSource, bus *events.Bus, cfg EngineConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:      repo,
		positions: positions,
		snapshots: snapshots,
		watch:     watch,
		bus:       bus,
		cfg:       cfg,
		log:       logger.With().Str("service", "advisor_engine").Logger(),
	}
}

// Sweep evaluates all triggers. ownerFilter narrows the sweep to one owner
// (used when a trade append requests a targeted re-evaluation); empty means
// everyone. Evaluation errors are isolated per trigger: one bad snapshot or
// owner never halts the sweep.
func (e *Engine) Sweep(ctx context.Context, ownerFilter string) (int, error) {
	created := 0
	perOwner := make(map[string]int)

	regime, err := e.snapshots.Latest(marketdata.LayerRegime)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("advisor sweep could not load regime snapshot: %w", err)
	}

	assetSnapshots, err := e.snapshots.LatestPerLabel(marketdata.LayerAsset)
	if err != nil {
		return 0, fmt.Errorf("advisor sweep could not load asset snapshots: %w", err)
	}
	assetByLabel := make(map[string]*marketdata.Snapshot, len(assetSnapshots))
	for _, s := range assetSnapshots {
		assetByLabel[s.Label] = s
	}

	openPositions, err := e.positions.ListOpen()
	if err != nil {
		return 0, fmt.Errorf("advisor sweep could not load positions: %w", err)
	}

	for _, pos := range openPositions {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		if ownerFilter != "" && pos.OwnerID != ownerFilter {
			continue
		}

		if n, err := e.evaluateRisk(pos, assetByLabel[pos.Asset]); err != nil {
			e.log.Error().Err(err).Str("owner", pos.OwnerID).Str("asset", pos.Asset).Msg("Risk evaluation failed")
		} else {
			created += n
			perOwner[pos.OwnerID] += n
		}

		if n, err := e.evaluateRebalance(pos, regime); err != nil {
			e.log.Error().Err(err).Str("owner", pos.OwnerID).Str("asset", pos.Asset).Msg("Rebalance evaluation failed")
		} else {
			created += n
			perOwner[pos.OwnerID] += n
		}
	}

	entryOwners, err := e.entryOwners(openPositions, ownerFilter)
	if err != nil {
		e.log.Error().Err(err).Msg("Could not resolve owners for entry evaluation")
	} else {
		exposure := exposureIndex(openPositions)
		for _, ownerID := range entryOwners {
			if err := ctx.Err(); err != nil {
				return created, err
			}
			n, err := e.evaluateEntries(ownerID, assetSnapshots, exposure)
			if err != nil {
				e.log.Error().Err(err).Str("owner", ownerID).Msg("Entry evaluation failed")
				continue
			}
			created += n
			perOwner[ownerID] += n
		}
	}

	for ownerID, n := range perOwner {
		if n > 0 {
			e.bus.Emit(events.RecommendationsReady, events.RecommendationsReadyData{
				OwnerID: ownerID,
				Count:   n,
			})
		}
	}

	e.log.Info().Int("created", created).Str("owner_filter", ownerFilter).Msg("Advisor sweep complete")
	return created, nil
}

// evaluateRisk fires a risk_adjustment when the asset outlook has moved
// against an open position beyond the alert threshold
func (e *Engine) evaluateRisk(pos *domain.Position, snap *marketdata.Snapshot) (int, error) {
	if snap == nil {
		return 0, nil
	}

	// Scores are a -1..1 outlook; adverse means opposite the position's side.
	adverse := snap.Score * pos.Direction.Sign()
	if adverse > -e.cfg.RiskAlertThreshold {
		return 0, nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"reason":        "adverse asset outlook",
		"asset_score":   snap.Score,
		"open_quantity": pos.Quantity,
		"suggestion":    "tighten stop or reduce exposure",
	})

	rec := &Recommendation{
		OwnerID:    pos.OwnerID,
		TargetKind: TargetPosition,
		TargetRef:  pos.Asset,
		Type:       TypeRiskAdjustment,
		Payload:    string(payload),
		Confidence: snap.Confidence,
		Priority:   2,
		TriggerKey: "risk:" + pos.Asset,
	}
	return e.emit(rec, []string{snap.UUID})
}

// evaluateRebalance fires when the market regime conflicts with the
// position's direction
func (e *Engine) evaluateRebalance(pos *domain.Position, regime *marketdata.Snapshot) (int, error) {
	if regime == nil {
		return 0, nil
	}

	conflict := regime.Score * pos.Direction.Sign()
	if conflict > -e.cfg.RiskAlertThreshold {
		return 0, nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"reason":       "regime conflicts with exposure",
		"regime":       regime.Label,
		"regime_score": regime.Score,
	})

	rec := &Recommendation{
		OwnerID:    pos.OwnerID,
		TargetKind: TargetPosition,
		TargetRef:  pos.Asset,
		Type:       TypeRebalance,
		Payload:    string(payload),
		Confidence: regime.Confidence,
		Priority:   1,
		TriggerKey: "rebalance:" + regime.Label + ":" + pos.Asset,
	}
	return e.emit(rec, []string{regime.UUID})
}

// evaluateEntries fires entry suggestions for strongly scored assets the
// owner neither holds nor watches
func (e *Engine) evaluateEntries(ownerID string, assetSnapshots []*marketdata.Snapshot, exposure map[string]bool) (int, error) {
	created := 0
	for _, snap := range assetSnapshots {
		if snap.Score < e.cfg.RiskAlertThreshold {
			continue
		}
		if exposure[ownerID+"\x00"+snap.Label] {
			continue
		}
		watched, err := e.watch.IsWatched(ownerID, snap.Label)
		if err != nil {
			return created, err
		}
		if watched {
			continue
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"reason":      "strong asset outlook without exposure",
			"asset_score": snap.Score,
		})

		rec := &Recommendation{
			OwnerID:    ownerID,
			TargetKind: TargetAsset,
			TargetRef:  snap.Label,
			Type:       TypeEntry,
			Payload:    string(payload),
			Confidence: snap.Confidence,
			Priority:   0,
			TriggerKey: "entry:" + snap.Label,
		}
		n, err := e.emit(rec, []string{snap.UUID})
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// emit applies the confidence gate, feedback weighting, and trigger dedupe,
// then inserts the recommendation
func (e *Engine) emit(rec *Recommendation, snapshotIDs []string) (int, error) {
	// Past review outcomes weight the confidence once enough decisions
	// exist for this (owner, type) combination.
	rate, decided, err := e.repo.AcceptanceStats(rec.OwnerID, rec.Type)
	if err != nil {
		return 0, err
	}
	confidence := rec.Confidence
	if decided >= 5 {
		confidence *= 0.5 + rate
		if confidence > 1 {
			confidence = 1
		}
	}
	if confidence < e.cfg.MinConfidence {
		e.log.Debug().
			Str("owner", rec.OwnerID).
			Str("trigger", rec.TriggerKey).
			Float64("confidence", confidence).
			Msg("Recommendation below confidence gate")
		return 0, nil
	}

	now := time.Now().UTC()
	window := now.Add(-e.cfg.DefaultExpiry)
	exists, err := e.repo.HasRecentTrigger(rec.OwnerID, rec.TriggerKey, window)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}

	ids, _ := json.Marshal(snapshotIDs)
	expiresAt := now.Add(e.cfg.DefaultExpiry)

	rec.UUID = uuid.New().String()
	rec.Status = StatusPending
	rec.Confidence = confidence
	rec.SnapshotIDs = string(ids)
	rec.ExpiresAt = &expiresAt

	if err := e.repo.Insert(rec); err != nil {
		return 0, err
	}

	e.log.Info().
		Str("recommendation", rec.UUID).
		Str("owner", rec.OwnerID).
		Str("type", string(rec.Type)).
		Str("trigger", rec.TriggerKey).
		Float64("confidence", confidence).
		Msg("Recommendation created")

	return 1, nil
}

// ExpireSweep moves overdue recommendations to expired
func (e *Engine) ExpireSweep() (int64, error) {
	expired, err := e.repo.ExpireOverdue(time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		e.log.Info().Int64("expired", expired).Msg("Expiry sweep complete")
	}
	return expired, nil
}

// entryOwners merges owners with open positions and owners with watchlists
func (e *Engine) entryOwners(openPositions []*domain.Position, ownerFilter string) ([]string, error) {
	seen := make(map[string]bool)
	var owners []string

	add := func(ownerID string) {
		if ownerID == "" || ownerID == "system" || seen[ownerID] {
			return
		}
		if ownerFilter != "" && ownerID != ownerFilter {
			return
		}
		seen[ownerID] = true
		owners = append(owners, ownerID)
	}

	for _, pos := range openPositions {
		add(pos.OwnerID)
	}

	watchOwners, err := e.watch.Owners()
	if err != nil {
		return nil, err
	}
	for _, ownerID := range watchOwners {
		add(ownerID)
	}

	return owners, nil
}

// exposureIndex builds a lookup of (owner, asset) pairs with open quantity
func exposureIndex(positions []*domain.Position) map[string]bool {
	index := make(map[string]bool, len(positions))
	for _, pos := range positions {
		if pos.IsOpen() {
			index[pos.OwnerID+"\x00"+pos.Asset] = true
		}
	}
	return index
}
