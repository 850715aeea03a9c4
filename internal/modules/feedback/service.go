package feedback

import (
	"errors"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/modules/advisor"
)

// ActionImplemented is the action_taken value that promotes a
// recommendation to implemented
const ActionImplemented = "implemented"

// Service handles feedback submission and aggregate maintenance
type Service struct {
	repo    *FeedbackRepository
	recRepo *advisor.RecommendationRepository
	advisor *advisor.Service
	log     zerolog.Logger
}

// NewService creates a new feedback service
func NewService(repo *FeedbackRepository, recRepo *advisor.RecommendationRepository, advisorSvc *advisor.Service, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		recRepo: recRepo,
		advisor: advisorSvc,
		log:     logger.With().Str("service", "feedback").Logger(),
	}
}

// Submit records a reviewer's feedback. Resubmission by the same reviewer
// replaces the earlier row rather than stacking duplicates. The
// recommendation's rolling aggregates are refreshed, and reporting the
// action as implemented promotes an active recommendation.
func (s *Service) Submit(f *Feedback) (*Feedback, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	rec, err := s.recRepo.GetByID(f.RecommendationUUID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Upsert(f); err != nil {
		return nil, err
	}

	ratings, err := s.repo.Ratings(f.RecommendationUUID)
	if err != nil {
		return nil, err
	}
	avg := stat.Mean(ratings, nil)
	if err := s.recRepo.UpdateRatingStats(f.RecommendationUUID, avg, len(ratings)); err != nil {
		return nil, err
	}

	if f.ActionTaken == ActionImplemented && !rec.Status.Terminal() {
		if _, err := s.advisor.MarkImplemented(rec.UUID, f.ReviewerID); err != nil {
			// A racing actor may have closed the record; the feedback
			// itself is already saved, so a conflict is not fatal here.
			if !errors.Is(err, domain.ErrConflict) {
				return nil, err
			}
			s.log.Warn().
				Str("recommendation", rec.UUID).
				Msg("Feedback reported implementation but recommendation was already terminal")
		}
	}

	s.log.Info().
		Str("recommendation", f.RecommendationUUID).
		Str("reviewer", f.ReviewerID).
		Int("rating", f.Rating).
		Float64("avg_rating", avg).
		Msg("Feedback recorded")

	return f, nil
}

// ForRecommendation returns all feedback for a recommendation
func (s *Service) ForRecommendation(recUUID string) ([]*Feedback, error) {
	if _, err := s.recRepo.GetByID(recUUID); err != nil {
		return nil, err
	}
	return s.repo.ListByRecommendation(recUUID)
}
