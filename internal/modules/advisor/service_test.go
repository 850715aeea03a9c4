package advisor_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/modules/advisor"
)

func insertPending(t *testing.T, repo *advisor.RecommendationRepository, uuid string) {
	t.Helper()
	expires := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, repo.Insert(&advisor.Recommendation{
		UUID: uuid, OwnerID: "alice", TargetKind: advisor.TargetAsset,
		TargetRef: "BTC", Type: advisor.TypeEntry, Confidence: 0.8,
		TriggerKey: "entry:BTC", ExpiresAt: &expires,
	}))
}

func TestLifecycle_ApproveThenImplement(t *testing.T) {
	repo, _ := setupRepo(t)
	svc := advisor.NewService(repo, zerolog.Nop())
	insertPending(t, repo, "rec-1")

	rec, err := svc.Approve("rec-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, advisor.StatusApproved, rec.Status)
	assert.Equal(t, "alice", rec.ActedBy)

	rec, err = svc.MarkImplemented("rec-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, advisor.StatusImplemented, rec.Status)
}

func TestLifecycle_TerminalStatesAreImmutable(t *testing.T) {
	repo, _ := setupRepo(t)
	svc := advisor.NewService(repo, zerolog.Nop())
	insertPending(t, repo, "rec-1")

	_, err := svc.Reject("rec-1", "alice")
	require.NoError(t, err)

	_, err = svc.Approve("rec-1", "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.MarkImplemented("rec-1", "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestLifecycle_ApprovedCannotBeRejected(t *testing.T) {
	repo, _ := setupRepo(t)
	svc := advisor.NewService(repo, zerolog.Nop())
	insertPending(t, repo, "rec-1")

	_, err := svc.Approve("rec-1", "alice")
	require.NoError(t, err)

	_, err = svc.Reject("rec-1", "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestLifecycle_UnknownRecommendationIsNotFound(t *testing.T) {
	repo, _ := setupRepo(t)
	svc := advisor.NewService(repo, zerolog.Nop())

	_, err := svc.Approve("missing", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSupersede_CreatesLinkedPendingReplacement(t *testing.T) {
	repo, _ := setupRepo(t)
	svc := advisor.NewService(repo, zerolog.Nop())
	insertPending(t, repo, "rec-1")

	newConfidence := 0.95
	replacement, err := svc.Supersede("rec-1", "admin-1", advisor.SupersedeRequest{
		Payload:    `{"note":"corrected sizing"}`,
		Confidence: &newConfidence,
	})
	require.NoError(t, err)

	assert.Equal(t, advisor.StatusPending, replacement.Status)
	assert.Equal(t, "admin-1", replacement.ActedBy)
	assert.InDelta(t, 0.95, replacement.Confidence, 1e-12)
	assert.Equal(t, "alice", replacement.OwnerID)

	old, err := repo.GetByID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, replacement.UUID, old.SupersededBy)
	assert.Equal(t, advisor.StatusExpired, old.Status)
}

func TestSupersede_TerminalRecordGetsReplacementToo(t *testing.T) {
	repo, _ := setupRepo(t)
	svc := advisor.NewService(repo, zerolog.Nop())
	insertPending(t, repo, "rec-1")

	_, err := svc.Reject("rec-1", "alice")
	require.NoError(t, err)

	replacement, err := svc.Supersede("rec-1", "admin-1", advisor.SupersedeRequest{})
	require.NoError(t, err)
	assert.Equal(t, advisor.StatusPending, replacement.Status)

	// The terminal status itself is untouched, only the link is added.
	old, err := repo.GetByID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, advisor.StatusRejected, old.Status)
	assert.Equal(t, replacement.UUID, old.SupersededBy)
}

func TestSupersede_DoubleSupersedeConflicts(t *testing.T) {
	repo, _ := setupRepo(t)
	svc := advisor.NewService(repo, zerolog.Nop())
	insertPending(t, repo, "rec-1")

	_, err := svc.Supersede("rec-1", "admin-1", advisor.SupersedeRequest{})
	require.NoError(t, err)

	_, err = svc.Supersede("rec-1", "admin-1", advisor.SupersedeRequest{})
	assert.ErrorIs(t, err, domain.ErrConflict)
}
