// Package portfolio maintains derived positions over the trade ledger.
package portfolio

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
)

// PositionRepository handles position persistence.
// Positions live in the ledger database so that fold writes commit in the
// same transaction as the trade action append.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, logger zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: logger.With().Str("repo", "positions").Logger(),
	}
}

const selectPositionColumns = `
	SELECT owner_id, asset, direction, quantity, avg_entry_price, avg_exit_price,
	       exited_quantity, realized_pnl, total_fees, leverage, status,
	       stop_price, target_price, max_allocation_pct, version, audit_flagged,
	       first_action_at, last_action_at, updated_at`

// Get retrieves a position for an (owner, asset) pair
func (r *PositionRepository) Get(ownerID, asset string) (*domain.Position, error) {
	row := r.db.QueryRow(
		selectPositionColumns+" FROM positions WHERE owner_id = ? AND asset = ?",
		ownerID, asset,
	)
	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("position %s/%s not found", ownerID, asset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s/%s: %w", ownerID, asset, err)
	}
	return pos, nil
}

// GetTx retrieves a position within a transaction. Returns (nil, nil) when
// no position exists yet, which the fold treats as an empty starting state.
func (r *PositionRepository) GetTx(tx *sql.Tx, ownerID, asset string) (*domain.Position, error) {
	row := tx.QueryRow(
		selectPositionColumns+" FROM positions WHERE owner_id = ? AND asset = ?",
		ownerID, asset,
	)
	pos, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s/%s: %w", ownerID, asset, err)
	}
	return pos, nil
}

// ListByOwner returns all positions for an owner, optionally filtered by status
func (r *PositionRepository) ListByOwner(ownerID string, status domain.PositionStatus) ([]*domain.Position, error) {
	query := selectPositionColumns + " FROM positions WHERE owner_id = ?"
	args := []interface{}{ownerID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY asset ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions for %s: %w", ownerID, err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListOpen returns all non-closed positions across owners.
// Used by the reconciliation sweep and the advisor engine.
func (r *PositionRepository) ListOpen() ([]*domain.Position, error) {
	rows, err := r.db.Query(
		selectPositionColumns + " FROM positions WHERE status != 'closed' ORDER BY owner_id, asset",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListFlagged returns positions flagged for audit by reconciliation
func (r *PositionRepository) ListFlagged() ([]*domain.Position, error) {
	rows, err := r.db.Query(
		selectPositionColumns + " FROM positions WHERE audit_flagged = 1 ORDER BY owner_id, asset",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list flagged positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// UpsertTx writes a position within a transaction using optimistic locking.
// A position with Version 0 is inserted fresh; otherwise the UPDATE matches
// the previous version and bumps it. A missed match means a concurrent
// writer won and the caller gets ErrConflict.
func (r *PositionRepository) UpsertTx(tx *sql.Tx, p *domain.Position) error {
	now := time.Now().UTC()
	p.UpdatedAt = now

	if p.Version == 0 {
		p.Version = 1
		_, err := tx.Exec(`
			INSERT INTO positions (
				owner_id, asset, direction, quantity, avg_entry_price,
				avg_exit_price, exited_quantity, realized_pnl, total_fees,
				leverage, status, stop_price, target_price, max_allocation_pct,
				version, audit_flagged, first_action_at, last_action_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.OwnerID, p.Asset, string(p.Direction), p.Quantity, p.AvgEntryPrice,
			p.AvgExitPrice, p.ExitedQuantity, p.RealizedPnL, p.TotalFees,
			p.Leverage, string(p.Status), nullFloat64(p.StopPrice),
			nullFloat64(p.TargetPrice), nullFloat64(p.MaxAllocation),
			p.Version, boolToInt(p.AuditFlagged),
			p.FirstActionAt.Unix(), p.LastActionAt.Unix(), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert position %s/%s: %w", p.OwnerID, p.Asset, err)
		}
		return nil
	}

	prevVersion := p.Version
	p.Version++

	result, err := tx.Exec(`
		UPDATE positions SET
			direction = ?, quantity = ?, avg_entry_price = ?, avg_exit_price = ?,
			exited_quantity = ?, realized_pnl = ?, total_fees = ?, leverage = ?,
			status = ?, stop_price = ?, target_price = ?, max_allocation_pct = ?,
			version = ?, audit_flagged = ?, last_action_at = ?, updated_at = ?
		WHERE owner_id = ? AND asset = ? AND version = ?`,
		string(p.Direction), p.Quantity, p.AvgEntryPrice, p.AvgExitPrice,
		p.ExitedQuantity, p.RealizedPnL, p.TotalFees, p.Leverage,
		string(p.Status), nullFloat64(p.StopPrice), nullFloat64(p.TargetPrice),
		nullFloat64(p.MaxAllocation), p.Version, boolToInt(p.AuditFlagged),
		p.LastActionAt.Unix(), now.Unix(),
		p.OwnerID, p.Asset, prevVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update position %s/%s: %w", p.OwnerID, p.Asset, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check position update for %s/%s: %w", p.OwnerID, p.Asset, err)
	}
	if affected == 0 {
		return domain.Conflictf("position %s/%s was modified concurrently (version %d)",
			p.OwnerID, p.Asset, prevVersion)
	}

	return nil
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var direction, status string
	var stopPrice, targetPrice, maxAllocation sql.NullFloat64
	var auditFlagged int
	var firstActionAt, lastActionAt, updatedAt int64

	err := row.Scan(
		&p.OwnerID, &p.Asset, &direction, &p.Quantity, &p.AvgEntryPrice,
		&p.AvgExitPrice, &p.ExitedQuantity, &p.RealizedPnL, &p.TotalFees,
		&p.Leverage, &status, &stopPrice, &targetPrice, &maxAllocation,
		&p.Version, &auditFlagged, &firstActionAt, &lastActionAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	if stopPrice.Valid {
		p.StopPrice = &stopPrice.Float64
	}
	if targetPrice.Valid {
		p.TargetPrice = &targetPrice.Float64
	}
	if maxAllocation.Valid {
		p.MaxAllocation = &maxAllocation.Float64
	}
	p.AuditFlagged = auditFlagged == 1
	p.FirstActionAt = time.Unix(firstActionAt, 0).UTC()
	p.LastActionAt = time.Unix(lastActionAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &p, nil
}

func scanPositions(rows *sql.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullFloat64(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
