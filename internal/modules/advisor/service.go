package advisor

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
)

// Service owns the recommendation lifecycle: review decisions, promotion,
// and admin supersession.
type Service struct {
	repo *RecommendationRepository
	log  zerolog.Logger
}

// NewService creates a new advisor service
func NewService(repo *RecommendationRepository, logger zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  logger.With().Str("service", "advisor").Logger(),
	}
}

// Approve moves a pending recommendation to approved
func (s *Service) Approve(recUUID, actedBy string) (*Recommendation, error) {
	return s.transition(recUUID, StatusApproved, actedBy)
}

// Reject moves a pending recommendation to rejected
func (s *Service) Reject(recUUID, actedBy string) (*Recommendation, error) {
	return s.transition(recUUID, StatusRejected, actedBy)
}

// MarkImplemented promotes a pending or approved recommendation to
// implemented. Called directly or through feedback reporting the action
// was taken.
func (s *Service) MarkImplemented(recUUID, actedBy string) (*Recommendation, error) {
	return s.transition(recUUID, StatusImplemented, actedBy)
}

func (s *Service) transition(recUUID string, to Status, actedBy string) (*Recommendation, error) {
	rec, err := s.repo.GetByID(recUUID)
	if err != nil {
		return nil, err
	}

	if !rec.Status.CanTransition(to) {
		if rec.Status.Terminal() {
			return nil, domain.Conflictf("recommendation %s is %s and immutable", recUUID, rec.Status)
		}
		return nil, domain.Conflictf("recommendation %s cannot move from %s to %s", recUUID, rec.Status, to)
	}

	if err := s.repo.UpdateStatus(recUUID, rec.Status, to, actedBy); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("recommendation", recUUID).
		Str("from", string(rec.Status)).
		Str("to", string(to)).
		Str("acted_by", actedBy).
		Msg("Recommendation transitioned")

	return s.repo.GetByID(recUUID)
}

// SupersedeRequest carries the admin's replacement content. Empty fields
// inherit from the superseded record.
type SupersedeRequest struct {
	Payload    string
	Confidence *float64
	Priority   *int
	ExpiresAt  *time.Time
}

// Supersede clones a recommendation into a fresh pending record and links
// the old one to it. This is how corrections happen: existing records,
// terminal or not, are never edited in place.
func (s *Service) Supersede(recUUID, adminID string, req SupersedeRequest) (*Recommendation, error) {
	old, err := s.repo.GetByID(recUUID)
	if err != nil {
		return nil, err
	}
	if old.SupersededBy != "" {
		return nil, domain.Conflictf("recommendation %s is already superseded by %s", recUUID, old.SupersededBy)
	}

	replacement := &Recommendation{
		UUID:        uuid.New().String(),
		OwnerID:     old.OwnerID,
		TargetKind:  old.TargetKind,
		TargetRef:   old.TargetRef,
		Type:        old.Type,
		Payload:     old.Payload,
		Confidence:  old.Confidence,
		Priority:    old.Priority,
		Status:      StatusPending,
		SnapshotIDs: old.SnapshotIDs,
		TriggerKey:  old.TriggerKey,
		ExpiresAt:   old.ExpiresAt,
		ActedBy:     adminID,
	}
	if req.Payload != "" {
		replacement.Payload = req.Payload
	}
	if req.Confidence != nil {
		replacement.Confidence = *req.Confidence
	}
	if req.Priority != nil {
		replacement.Priority = *req.Priority
	}
	if req.ExpiresAt != nil {
		replacement.ExpiresAt = req.ExpiresAt
	}

	if err := s.repo.Insert(replacement); err != nil {
		return nil, err
	}
	if err := s.repo.MarkSuperseded(old.UUID, replacement.UUID); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("old", old.UUID).
		Str("new", replacement.UUID).
		Str("admin", adminID).
		Msg("Recommendation superseded")

	return replacement, nil
}
