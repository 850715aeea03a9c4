// Package ledger manages the append-only trade action log.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
)

// TradeActionRepository handles trade action persistence.
// The ledger is append-only: there is no update or delete path.
type TradeActionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeActionRepository creates a new trade action repository
func NewTradeActionRepository(db *sql.DB, logger zerolog.Logger) *TradeActionRepository {
	return &TradeActionRepository{
		db:  db,
		log: logger.With().Str("repo", "trade_actions").Logger(),
	}
}

// InsertTx appends a trade action within an existing transaction.
// The caller is responsible for running the position fold in the same
// transaction so the append and the aggregate commit together.
func (r *TradeActionRepository) InsertTx(tx *sql.Tx, a *domain.TradeAction) (int64, error) {
	if a.ExecutedAt.IsZero() {
		a.ExecutedAt = time.Now().UTC()
	}
	a.CreatedAt = time.Now().UTC()

	result, err := tx.Exec(`
		INSERT INTO trade_actions (
			owner_id, asset, asset_meta, kind, direction, price, quantity,
			leverage, fees, realized_pnl, context, stop_price, target_price,
			max_allocation_pct, source, acting_admin, executed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.OwnerID, a.Asset, nullString(a.AssetMeta), string(a.Kind),
		string(a.Direction), a.Price, a.Quantity, a.Leverage, a.Fees,
		a.RealizedPnL, nullString(a.Context), nullFloat64(a.StopPrice),
		nullFloat64(a.TargetPrice), nullFloat64(a.MaxAllocation),
		string(a.Source), nullString(a.ActingAdmin),
		a.ExecutedAt.Unix(), a.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get trade action id: %w", err)
	}
	a.ID = id

	return id, nil
}

// GetByID retrieves a single trade action
func (r *TradeActionRepository) GetByID(id int64) (*domain.TradeAction, error) {
	row := r.db.QueryRow(selectActionColumns+" FROM trade_actions WHERE id = ?", id)

	action, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("trade action %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade action %d: %w", id, err)
	}

	return action, nil
}

// ListByOwnerAsset returns all actions for one (owner, asset) pair in
// fold order: executed_at ascending, id as tiebreaker. This ordering is
// what makes replay deterministic.
func (r *TradeActionRepository) ListByOwnerAsset(ownerID, asset string) ([]*domain.TradeAction, error) {
	rows, err := r.db.Query(
		selectActionColumns+` FROM trade_actions
		WHERE owner_id = ? AND asset = ?
		ORDER BY executed_at ASC, id ASC`,
		ownerID, asset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list trade actions for %s/%s: %w", ownerID, asset, err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// ListByOwner returns the most recent actions for an owner
func (r *TradeActionRepository) ListByOwner(ownerID string, limit int) ([]*domain.TradeAction, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(
		selectActionColumns+` FROM trade_actions
		WHERE owner_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list trade actions for %s: %w", ownerID, err)
	}
	defer rows.Close()

	return scanActions(rows)
}

// CountSince counts actions for a pair since the given time
func (r *TradeActionRepository) CountSince(ownerID, asset string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM trade_actions
		WHERE owner_id = ? AND asset = ? AND executed_at >= ?`,
		ownerID, asset, since.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trade actions: %w", err)
	}
	return count, nil
}

// OwnerSummary aggregates ledger totals for one owner
type OwnerSummary struct {
	OwnerID     string  `json:"owner_id"`
	ActionCount int     `json:"action_count"`
	AssetCount  int     `json:"asset_count"`
	TotalFees   float64 `json:"total_fees"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// Summarize computes ledger totals for an owner
func (r *TradeActionRepository) Summarize(ownerID string) (*OwnerSummary, error) {
	summary := &OwnerSummary{OwnerID: ownerID}
	err := r.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT asset), COALESCE(SUM(fees), 0), COALESCE(SUM(realized_pnl), 0)
		FROM trade_actions WHERE owner_id = ?`,
		ownerID,
	).Scan(&summary.ActionCount, &summary.AssetCount, &summary.TotalFees, &summary.RealizedPnL)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize ledger for %s: %w", ownerID, err)
	}
	return summary, nil
}

const selectActionColumns = `
	SELECT id, owner_id, asset, asset_meta, kind, direction, price, quantity,
	       leverage, fees, realized_pnl, context, stop_price, target_price,
	       max_allocation_pct, source, acting_admin, executed_at, created_at`

// rowScanner abstracts sql.Row and sql.Rows for shared scanning
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*domain.TradeAction, error) {
	var a domain.TradeAction
	var assetMeta, context, actingAdmin sql.NullString
	var stopPrice, targetPrice, maxAllocation sql.NullFloat64
	var executedAt, createdAt int64
	var kind, direction, source string

	err := row.Scan(
		&a.ID, &a.OwnerID, &a.Asset, &assetMeta, &kind, &direction,
		&a.Price, &a.Quantity, &a.Leverage, &a.Fees, &a.RealizedPnL,
		&context, &stopPrice, &targetPrice, &maxAllocation,
		&source, &actingAdmin, &executedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	a.Kind = domain.ActionKind(kind)
	a.Direction = domain.Direction(direction)
	a.Source = domain.ActionSource(source)
	a.AssetMeta = assetMeta.String
	a.Context = context.String
	a.ActingAdmin = actingAdmin.String
	if stopPrice.Valid {
		a.StopPrice = &stopPrice.Float64
	}
	if targetPrice.Valid {
		a.TargetPrice = &targetPrice.Float64
	}
	if maxAllocation.Valid {
		a.MaxAllocation = &maxAllocation.Float64
	}
	a.ExecutedAt = time.Unix(executedAt, 0).UTC()
	a.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &a, nil
}

func scanActions(rows *sql.Rows) ([]*domain.TradeAction, error) {
	var actions []*domain.TradeAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade action: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade actions: %w", err)
	}
	return actions, nil
}

// nullString converts an empty string to NULL
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullFloat64 converts a nil pointer to NULL
func nullFloat64(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
