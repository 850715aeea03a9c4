package advisor_test

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
	"github.com/aristath/vantage/internal/modules/advisor"
	"github.com/aristath/vantage/internal/modules/marketdata"
)

type fakePositions struct {
	positions []*domain.Position
}

func (f *fakePositions) ListOpen() ([]*domain.Position, error) {
	return f.positions, nil
}

type fakeSnapshots struct {
	regime *marketdata.Snapshot
	assets []*marketdata.Snapshot
}

func (f *fakeSnapshots) Latest(layer marketdata.Layer) (*marketdata.Snapshot, error) {
	if layer == marketdata.LayerRegime && f.regime != nil {
		return f.regime, nil
	}
	return nil, domain.NotFoundf("no %s snapshots", layer)
}

func (f *fakeSnapshots) LatestPerLabel(layer marketdata.Layer) ([]*marketdata.Snapshot, error) {
	if layer == marketdata.LayerAsset {
		return f.assets, nil
	}
	return nil, nil
}

type fakeWatchlists struct {
	owners  []string
	watched map[string]bool
}

func (f *fakeWatchlists) Owners() ([]string, error) { return f.owners, nil }
func (f *fakeWatchlists) IsWatched(ownerID, asset string) (bool, error) {
	return f.watched[ownerID+"/"+asset], nil
}

func setupRepo(t *testing.T) (*advisor.RecommendationRepository, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := database.SchemaSQL("cache")
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	return advisor.NewRecommendationRepository(db, zerolog.Nop()), db
}

func longPosition(owner, asset string) *domain.Position {
	now := time.Now().UTC()
	return &domain.Position{
		OwnerID:       owner,
		Asset:         asset,
		Direction:     domain.DirectionLong,
		Quantity:      1.0,
		AvgEntryPrice: 100,
		Status:        domain.PositionOpen,
		Version:       1,
		FirstActionAt: now,
		LastActionAt:  now,
	}
}

func newEngine(repo *advisor.RecommendationRepository, positions *fakePositions, snapshots *fakeSnapshots, watch *fakeWatchlists) *advisor.Engine {
	return advisor.NewEngine(repo, positions, snapshots, watch, events.NewBus(zerolog.Nop()), advisor.EngineConfig{
		MinConfidence:      0.6,
		DefaultExpiry:      7 * 24 * time.Hour,
		RiskAlertThreshold: 0.15,
	}, zerolog.Nop())
}

func TestSweep_AdverseOutlookCreatesRiskAdjustment(t *testing.T) {
	repo, _ := setupRepo(t)
	engine := newEngine(repo,
		&fakePositions{positions: []*domain.Position{longPosition("alice", "BTC")}},
		&fakeSnapshots{assets: []*marketdata.Snapshot{{
			UUID: "snap-1", Layer: marketdata.LayerAsset, Label: "BTC",
			Score: -0.5, Confidence: 0.9, ObservedAt: time.Now().UTC(),
		}}},
		&fakeWatchlists{},
	)

	created, err := engine.Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	recs, err := repo.ListByOwner("alice", advisor.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, advisor.TypeRiskAdjustment, recs[0].Type)
	assert.Equal(t, "risk:BTC", recs[0].TriggerKey)
	assert.NotNil(t, recs[0].ExpiresAt)
	assert.Contains(t, recs[0].SnapshotIDs, "snap-1")
}

func TestSweep_IsIdempotentWithinWindow(t *testing.T) {
	repo, _ := setupRepo(t)
	engine := newEngine(repo,
		&fakePositions{positions: []*domain.Position{longPosition("alice", "BTC")}},
		&fakeSnapshots{assets: []*marketdata.Snapshot{{
			UUID: "snap-1", Layer: marketdata.LayerAsset, Label: "BTC",
			Score: -0.5, Confidence: 0.9, ObservedAt: time.Now().UTC(),
		}}},
		&fakeWatchlists{},
	)

	created, err := engine.Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// Same conditions, same window: nothing new.
	created, err = engine.Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestSweep_ConfidenceGateDiscards(t *testing.T) {
	repo, _ := setupRepo(t)
	engine := newEngine(repo,
		&fakePositions{positions: []*domain.Position{longPosition("alice", "BTC")}},
		&fakeSnapshots{assets: []*marketdata.Snapshot{{
			UUID: "snap-1", Layer: marketdata.LayerAsset, Label: "BTC",
			Score: -0.9, Confidence: 0.3, ObservedAt: time.Now().UTC(),
		}}},
		&fakeWatchlists{},
	)

	created, err := engine.Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestSweep_RegimeConflictCreatesRebalance(t *testing.T) {
	repo, _ := setupRepo(t)
	engine := newEngine(repo,
		&fakePositions{positions: []*domain.Position{longPosition("alice", "BTC")}},
		&fakeSnapshots{regime: &marketdata.Snapshot{
			UUID: "regime-1", Layer: marketdata.LayerRegime, Label: "risk_off",
			Score: -0.6, Confidence: 0.8, ObservedAt: time.Now().UTC(),
		}},
		&fakeWatchlists{},
	)

	created, err := engine.Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	recs, err := repo.ListByOwner("alice", advisor.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, advisor.TypeRebalance, recs[0].Type)
}

func TestSweep_StrongUnheldAssetCreatesEntry(t *testing.T) {
	repo, _ := setupRepo(t)
	engine := newEngine(repo,
		&fakePositions{},
		&fakeSnapshots{assets: []*marketdata.Snapshot{{
			UUID: "snap-1", Layer: marketdata.LayerAsset, Label: "SOL",
			Score: 0.7, Confidence: 0.9, ObservedAt: time.Now().UTC(),
		}}},
		&fakeWatchlists{owners: []string{"carol"}},
	)

	created, err := engine.Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	recs, err := repo.ListByOwner("carol", advisor.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, advisor.TypeEntry, recs[0].Type)
	assert.Equal(t, "SOL", recs[0].TargetRef)
}

func TestSweep_WatchedAssetDoesNotTriggerEntry(t *testing.T) {
	repo, _ := setupRepo(t)
	engine := newEngine(repo,
		&fakePositions{},
		&fakeSnapshots{assets: []*marketdata.Snapshot{{
			UUID: "snap-1", Layer: marketdata.LayerAsset, Label: "SOL",
			Score: 0.7, Confidence: 0.9, ObservedAt: time.Now().UTC(),
		}}},
		&fakeWatchlists{owners: []string{"carol"}, watched: map[string]bool{"carol/SOL": true}},
	)

	created, err := engine.Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestSweep_OwnerFilterLimitsScope(t *testing.T) {
	repo, _ := setupRepo(t)
	engine := newEngine(repo,
		&fakePositions{positions: []*domain.Position{
			longPosition("alice", "BTC"),
			longPosition("bob", "BTC"),
		}},
		&fakeSnapshots{assets: []*marketdata.Snapshot{{
			UUID: "snap-1", Layer: marketdata.LayerAsset, Label: "BTC",
			Score: -0.5, Confidence: 0.9, ObservedAt: time.Now().UTC(),
		}}},
		&fakeWatchlists{},
	)

	created, err := engine.Sweep(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	bobRecs, err := repo.ListByOwner("bob", "", 10)
	require.NoError(t, err)
	assert.Empty(t, bobRecs)
}

func TestExpireSweep_MovesOverdueToExpired(t *testing.T) {
	repo, _ := setupRepo(t)

	past := time.Now().UTC().Add(-time.Hour)
	rec := &advisor.Recommendation{
		UUID: "rec-1", OwnerID: "alice", TargetKind: advisor.TargetAsset,
		TargetRef: "BTC", Type: advisor.TypeEntry, Confidence: 0.9,
		TriggerKey: "entry:BTC", ExpiresAt: &past,
	}
	require.NoError(t, repo.Insert(rec))

	engine := newEngine(repo, &fakePositions{}, &fakeSnapshots{}, &fakeWatchlists{})
	expired, err := engine.ExpireSweep()
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	got, err := repo.GetByID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, advisor.StatusExpired, got.Status)
}
