package portfolio_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/vantage/internal/database"
	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/events"
	"github.com/aristath/vantage/internal/modules/ledger"
	"github.com/aristath/vantage/internal/modules/portfolio"
)

type testEnv struct {
	db         *sql.DB
	trades     *ledger.TradeActionRepository
	positions  *portfolio.PositionRepository
	aggregator *portfolio.Aggregator
	service    *ledger.Service
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := database.SchemaSQL("ledger")
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	log := zerolog.Nop()
	bus := events.NewBus(log)
	trades := ledger.NewTradeActionRepository(db, log)
	positions := portfolio.NewPositionRepository(db, log)
	aggregator := portfolio.NewAggregator(db, positions, trades, bus, log)
	service := ledger.NewService(db, trades, aggregator, bus, log)

	return &testEnv{db: db, trades: trades, positions: positions, aggregator: aggregator, service: service}
}

func entry(owner, asset string, qty, price float64) *domain.TradeAction {
	return &domain.TradeAction{
		OwnerID:   owner,
		Asset:     asset,
		Kind:      domain.ActionEntry,
		Direction: domain.DirectionLong,
		Quantity:  qty,
		Price:     price,
	}
}

func TestAppend_EntryThenPartialExit(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)

	exit := &domain.TradeAction{
		OwnerID:   "alice",
		Asset:     "BTC",
		Kind:      domain.ActionPartialExit,
		Direction: domain.DirectionLong,
		Quantity:  0.4,
		Price:     120,
	}
	action, pos, err := env.service.Append(exit)
	require.NoError(t, err)

	assert.InDelta(t, 0.6, pos.Quantity, 1e-12)
	assert.InDelta(t, 100, pos.AvgEntryPrice, 1e-12)
	assert.InDelta(t, 8, pos.RealizedPnL, 1e-12)
	assert.InDelta(t, 120, pos.AvgExitPrice, 1e-12)
	assert.Equal(t, domain.PositionReducing, pos.Status)
	assert.InDelta(t, 8, action.RealizedPnL, 1e-12)
}

func TestAppend_TwoEntriesVolumeWeightedAverage(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "ETH", 0.5, 100))
	require.NoError(t, err)
	_, pos, err := env.service.Append(entry("alice", "ETH", 0.5, 120))
	require.NoError(t, err)

	assert.InDelta(t, 1.0, pos.Quantity, 1e-12)
	assert.InDelta(t, 110, pos.AvgEntryPrice, 1e-12)
	assert.Equal(t, domain.PositionAccumulating, pos.Status)
}

func TestAppend_OversellRejectedAndLedgerUntouched(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)

	_, _, err = env.service.Append(&domain.TradeAction{
		OwnerID:   "alice",
		Asset:     "BTC",
		Kind:      domain.ActionPartialExit,
		Direction: domain.DirectionLong,
		Quantity:  2.0,
		Price:     120,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// The failed append must leave both the ledger and the position alone.
	actions, err := env.trades.ListByOwnerAsset("alice", "BTC")
	require.NoError(t, err)
	assert.Len(t, actions, 1)

	pos, err := env.positions.Get("alice", "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pos.Quantity, 1e-12)
	assert.InDelta(t, 0, pos.RealizedPnL, 1e-12)
}

func TestAppend_FullExitClosesAndFreezesAverages(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)

	_, pos, err := env.service.Append(&domain.TradeAction{
		OwnerID:   "alice",
		Asset:     "BTC",
		Kind:      domain.ActionFullExit,
		Direction: domain.DirectionLong,
		Quantity:  1.0,
		Price:     90,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.Zero(t, pos.Quantity)
	assert.InDelta(t, 100, pos.AvgEntryPrice, 1e-12)
	assert.InDelta(t, 90, pos.AvgExitPrice, 1e-12)
	assert.InDelta(t, -10, pos.RealizedPnL, 1e-12)
	assert.False(t, pos.IsOpen())
}

func TestAppend_FullExitQuantityMustMatchOpenQuantity(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)

	_, _, err = env.service.Append(&domain.TradeAction{
		OwnerID:   "alice",
		Asset:     "BTC",
		Kind:      domain.ActionFullExit,
		Direction: domain.DirectionLong,
		Quantity:  0.5,
		Price:     110,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAppend_ExitWithoutPositionRejected(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(&domain.TradeAction{
		OwnerID:   "alice",
		Asset:     "SOL",
		Kind:      domain.ActionPartialExit,
		Direction: domain.DirectionLong,
		Quantity:  1.0,
		Price:     20,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAppend_DirectionConflictRejected(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)

	short := entry("alice", "BTC", 0.5, 100)
	short.Direction = domain.DirectionShort
	_, _, err = env.service.Append(short)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAppend_ShortRealizedPnL(t *testing.T) {
	env := setupEnv(t)

	open := entry("bob", "BTC", 1.0, 100)
	open.Direction = domain.DirectionShort
	_, _, err := env.service.Append(open)
	require.NoError(t, err)

	// Covering half at 90 profits (90-100) * 0.5 * -1 = +5.
	_, pos, err := env.service.Append(&domain.TradeAction{
		OwnerID:   "bob",
		Asset:     "BTC",
		Kind:      domain.ActionPartialExit,
		Direction: domain.DirectionShort,
		Quantity:  0.5,
		Price:     90,
	})
	require.NoError(t, err)
	assert.InDelta(t, 5, pos.RealizedPnL, 1e-12)
}

func TestAppend_ModifyRiskLeavesQuantitiesAlone(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)

	stop, target := 80.0, 150.0
	_, pos, err := env.service.Append(&domain.TradeAction{
		OwnerID:     "alice",
		Asset:       "BTC",
		Kind:        domain.ActionModifyRisk,
		Direction:   domain.DirectionLong,
		StopPrice:   &stop,
		TargetPrice: &target,
	})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, pos.Quantity, 1e-12)
	require.NotNil(t, pos.StopPrice)
	assert.InDelta(t, 80, *pos.StopPrice, 1e-12)
	require.NotNil(t, pos.TargetPrice)
	assert.InDelta(t, 150, *pos.TargetPrice, 1e-12)
	assert.Equal(t, domain.PositionExitPlanned, pos.Status)
}

func TestAppend_ReentryAfterCloseKeepsLifetimeTotals(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)
	_, _, err = env.service.Append(&domain.TradeAction{
		OwnerID:   "alice",
		Asset:     "BTC",
		Kind:      domain.ActionFullExit,
		Direction: domain.DirectionLong,
		Quantity:  1.0,
		Price:     110,
	})
	require.NoError(t, err)

	_, pos, err := env.service.Append(entry("alice", "BTC", 2.0, 105))
	require.NoError(t, err)

	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.InDelta(t, 2.0, pos.Quantity, 1e-12)
	assert.InDelta(t, 105, pos.AvgEntryPrice, 1e-12)
	assert.InDelta(t, 10, pos.RealizedPnL, 1e-12) // from the first cycle
}

func TestReplay_MatchesIncrementalState(t *testing.T) {
	env := setupEnv(t)

	steps := []*domain.TradeAction{
		entry("alice", "BTC", 1.0, 100),
		entry("alice", "BTC", 0.5, 130),
		{OwnerID: "alice", Asset: "BTC", Kind: domain.ActionPartialExit, Direction: domain.DirectionLong, Quantity: 0.7, Price: 125, Fees: 0.5},
		entry("alice", "BTC", 0.2, 140),
	}
	for _, a := range steps {
		_, _, err := env.service.Append(a)
		require.NoError(t, err)
	}

	stored, err := env.positions.Get("alice", "BTC")
	require.NoError(t, err)

	replayed, err := env.aggregator.Replay(context.Background(), "alice", "BTC")
	require.NoError(t, err)
	require.NotNil(t, replayed)

	assert.Equal(t, stored.Quantity, replayed.Quantity)
	assert.Equal(t, stored.AvgEntryPrice, replayed.AvgEntryPrice)
	assert.Equal(t, stored.AvgExitPrice, replayed.AvgExitPrice)
	assert.Equal(t, stored.ExitedQuantity, replayed.ExitedQuantity)
	assert.Equal(t, stored.RealizedPnL, replayed.RealizedPnL)
	assert.Equal(t, stored.TotalFees, replayed.TotalFees)
}

func TestReconcile_ConsistentPositionPasses(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)

	pos, divergences, err := env.aggregator.Reconcile(context.Background(), "alice", "BTC")
	require.NoError(t, err)
	assert.Empty(t, divergences)
	assert.False(t, pos.AuditFlagged)
}

func TestReconcile_DetectsAndRepairsTampering(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)

	// Corrupt the derived row behind the aggregator's back.
	_, err = env.db.Exec("UPDATE positions SET quantity = 999 WHERE owner_id = 'alice' AND asset = 'BTC'")
	require.NoError(t, err)

	pos, divergences, err := env.aggregator.Reconcile(context.Background(), "alice", "BTC")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReconciliationMismatch)
	require.NotEmpty(t, divergences)
	assert.Equal(t, "quantity", divergences[0].Field)

	// The ledger wins: the returned and stored state are recomputed.
	assert.InDelta(t, 1.0, pos.Quantity, 1e-12)
	assert.True(t, pos.AuditFlagged)

	stored, err := env.positions.Get("alice", "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, stored.Quantity, 1e-12)
	assert.True(t, stored.AuditFlagged)

	flagged, err := env.positions.ListFlagged()
	require.NoError(t, err)
	assert.Len(t, flagged, 1)
}

func TestRecompute_RepairsAndClearsFlag(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)
	_, err = env.db.Exec("UPDATE positions SET quantity = 999, audit_flagged = 1 WHERE owner_id = 'alice'")
	require.NoError(t, err)

	pos, err := env.aggregator.Recompute(context.Background(), "alice", "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pos.Quantity, 1e-12)
	assert.False(t, pos.AuditFlagged)
}

func TestRecompute_EmptyLedgerIsNotFound(t *testing.T) {
	env := setupEnv(t)

	_, err := env.aggregator.Recompute(context.Background(), "nobody", "BTC")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpsertTx_StaleVersionConflicts(t *testing.T) {
	env := setupEnv(t)

	_, _, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)

	pos, err := env.positions.Get("alice", "BTC")
	require.NoError(t, err)
	stale := *pos

	err = database.WithTransaction(env.db, func(tx *sql.Tx) error {
		return env.positions.UpsertTx(tx, pos)
	})
	require.NoError(t, err)

	// A second writer still holding the old version must lose.
	err = database.WithTransaction(env.db, func(tx *sql.Tx) error {
		return env.positions.UpsertTx(tx, &stale)
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestAppend_SetsTimestamps(t *testing.T) {
	env := setupEnv(t)

	before := time.Now().UTC().Add(-time.Second)
	action, pos, err := env.service.Append(entry("alice", "BTC", 1.0, 100))
	require.NoError(t, err)

	assert.False(t, action.ExecutedAt.Before(before))
	assert.Equal(t, action.ExecutedAt.Unix(), pos.FirstActionAt.Unix())
	assert.Equal(t, action.ExecutedAt.Unix(), pos.LastActionAt.Unix())
}
