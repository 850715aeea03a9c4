// Package feedback collects reviewer ratings on recommendations and keeps
// the rolling success aggregates current.
package feedback

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
)

// Feedback is one reviewer's verdict on a recommendation. A reviewer has at
// most one row per recommendation; resubmitting replaces it.
type Feedback struct {
	ID                 int64     `json:"id"`
	RecommendationUUID string    `json:"recommendation_uuid"`
	ReviewerID         string    `json:"reviewer_id"`
	Rating             int       `json:"rating"` // 1..5
	ActionTaken        string    `json:"action_taken,omitempty"`
	Comment            string    `json:"comment,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// FeedbackRepository handles feedback persistence in the cache database
type FeedbackRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewFeedbackRepository creates a new feedback repository
func NewFeedbackRepository(db *sql.DB, logger zerolog.Logger) *FeedbackRepository {
	return &FeedbackRepository{
		db:  db,
		log: logger.With().Str("repo", "feedback").Logger(),
	}
}

// Upsert inserts or replaces a reviewer's feedback for a recommendation
func (r *FeedbackRepository) Upsert(f *Feedback) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO feedback (recommendation_uuid, reviewer_id, rating, action_taken, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(recommendation_uuid, reviewer_id) DO UPDATE SET
			rating = excluded.rating,
			action_taken = excluded.action_taken,
			comment = excluded.comment,
			updated_at = excluded.updated_at`,
		f.RecommendationUUID, f.ReviewerID, f.Rating,
		nullString(f.ActionTaken), nullString(f.Comment),
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert feedback for %s by %s: %w",
			f.RecommendationUUID, f.ReviewerID, err)
	}
	f.UpdatedAt = now
	return nil
}

// ListByRecommendation returns all feedback for a recommendation
func (r *FeedbackRepository) ListByRecommendation(recUUID string) ([]*Feedback, error) {
	rows, err := r.db.Query(`
		SELECT id, recommendation_uuid, reviewer_id, rating, action_taken, comment, created_at, updated_at
		FROM feedback WHERE recommendation_uuid = ?
		ORDER BY updated_at DESC`,
		recUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback for %s: %w", recUUID, err)
	}
	defer rows.Close()

	var items []*Feedback
	for rows.Next() {
		var f Feedback
		var actionTaken, comment sql.NullString
		var createdAt, updatedAt int64
		err := rows.Scan(&f.ID, &f.RecommendationUUID, &f.ReviewerID, &f.Rating,
			&actionTaken, &comment, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		f.ActionTaken = actionTaken.String
		f.Comment = comment.String
		f.CreatedAt = time.Unix(createdAt, 0).UTC()
		f.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		items = append(items, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feedback: %w", err)
	}
	return items, nil
}

// Ratings returns the raw rating values for a recommendation
func (r *FeedbackRepository) Ratings(recUUID string) ([]float64, error) {
	rows, err := r.db.Query(
		"SELECT rating FROM feedback WHERE recommendation_uuid = ?", recUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load ratings for %s: %w", recUUID, err)
	}
	defer rows.Close()

	var ratings []float64
	for rows.Next() {
		var rating float64
		if err := rows.Scan(&rating); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		ratings = append(ratings, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ratings: %w", err)
	}
	return ratings, nil
}

// validate ensures a feedback submission is well-formed
func (f *Feedback) validate() error {
	if f.RecommendationUUID == "" {
		return domain.Validationf("recommendation uuid is required")
	}
	if f.ReviewerID == "" {
		return domain.Validationf("reviewer id is required")
	}
	if f.Rating < 1 || f.Rating > 5 {
		return domain.Validationf("rating must be between 1 and 5, got %d", f.Rating)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
