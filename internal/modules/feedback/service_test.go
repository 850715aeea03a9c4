package feedback_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/vantage/internal/database"
	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/modules/advisor"
	"github.com/aristath/vantage/internal/modules/feedback"
)

func setup(t *testing.T) (*feedback.Service, *advisor.RecommendationRepository) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := database.SchemaSQL("cache")
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	log := zerolog.Nop()
	recRepo := advisor.NewRecommendationRepository(db, log)
	advisorSvc := advisor.NewService(recRepo, log)
	repo := feedback.NewFeedbackRepository(db, log)
	return feedback.NewService(repo, recRepo, advisorSvc, log), recRepo
}

func seedRecommendation(t *testing.T, repo *advisor.RecommendationRepository, uuid string) {
	t.Helper()
	expires := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, repo.Insert(&advisor.Recommendation{
		UUID: uuid, OwnerID: "alice", TargetKind: advisor.TargetAsset,
		TargetRef: "BTC", Type: advisor.TypeEntry, Confidence: 0.8,
		TriggerKey: "entry:BTC", ExpiresAt: &expires,
	}))
}

func TestSubmit_UpdatesRollingAggregates(t *testing.T) {
	svc, recRepo := setup(t)
	seedRecommendation(t, recRepo, "rec-1")

	_, err := svc.Submit(&feedback.Feedback{
		RecommendationUUID: "rec-1", ReviewerID: "alice", Rating: 5,
	})
	require.NoError(t, err)

	_, err = svc.Submit(&feedback.Feedback{
		RecommendationUUID: "rec-1", ReviewerID: "bob", Rating: 3,
	})
	require.NoError(t, err)

	rec, err := recRepo.GetByID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.RatingCount)
	assert.InDelta(t, 4.0, rec.AvgRating, 1e-12)
}

func TestSubmit_ResubmissionReplacesNotDuplicates(t *testing.T) {
	svc, recRepo := setup(t)
	seedRecommendation(t, recRepo, "rec-1")

	_, err := svc.Submit(&feedback.Feedback{
		RecommendationUUID: "rec-1", ReviewerID: "alice", Rating: 2, Comment: "too risky",
	})
	require.NoError(t, err)

	_, err = svc.Submit(&feedback.Feedback{
		RecommendationUUID: "rec-1", ReviewerID: "alice", Rating: 4, Comment: "changed my mind",
	})
	require.NoError(t, err)

	rec, err := recRepo.GetByID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RatingCount)
	assert.InDelta(t, 4.0, rec.AvgRating, 1e-12)

	items, err := svc.ForRecommendation("rec-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "changed my mind", items[0].Comment)
}

func TestSubmit_ImplementedActionPromotesRecommendation(t *testing.T) {
	svc, recRepo := setup(t)
	seedRecommendation(t, recRepo, "rec-1")

	_, err := svc.Submit(&feedback.Feedback{
		RecommendationUUID: "rec-1", ReviewerID: "alice", Rating: 5,
		ActionTaken: feedback.ActionImplemented,
	})
	require.NoError(t, err)

	rec, err := recRepo.GetByID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, advisor.StatusImplemented, rec.Status)
}

func TestSubmit_TerminalRecommendationStillAcceptsFeedback(t *testing.T) {
	svc, recRepo := setup(t)
	seedRecommendation(t, recRepo, "rec-1")
	require.NoError(t, recRepo.UpdateStatus("rec-1", advisor.StatusPending, advisor.StatusRejected, "alice"))

	saved, err := svc.Submit(&feedback.Feedback{
		RecommendationUUID: "rec-1", ReviewerID: "alice", Rating: 1,
		ActionTaken: feedback.ActionImplemented,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Rating)

	// The terminal status is untouched.
	rec, err := recRepo.GetByID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, advisor.StatusRejected, rec.Status)
}

func TestSubmit_UnknownRecommendationIsNotFound(t *testing.T) {
	svc, _ := setup(t)

	_, err := svc.Submit(&feedback.Feedback{
		RecommendationUUID: "missing", ReviewerID: "alice", Rating: 3,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmit_RatingOutOfRangeRejected(t *testing.T) {
	svc, recRepo := setup(t)
	seedRecommendation(t, recRepo, "rec-1")

	for _, rating := range []int{0, 6, -1} {
		_, err := svc.Submit(&feedback.Feedback{
			RecommendationUUID: "rec-1", ReviewerID: "alice", Rating: rating,
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}
