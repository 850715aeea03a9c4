package advisor

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
)

// RecommendationRepository handles recommendation persistence in the cache database
type RecommendationRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRecommendationRepository creates a new recommendation repository
func NewRecommendationRepository(db *sql.DB, logger zerolog.Logger) *RecommendationRepository {
	return &RecommendationRepository{
		db:  db,
		log: logger.With().Str("repo", "recommendations").Logger(),
	}
}

const selectRecColumns = `
	SELECT uuid, owner_id, target_kind, target_ref, rec_type, payload,
	       confidence, priority, status, snapshot_ids, trigger_key,
	       expires_at, acted_by, superseded_by, avg_rating, rating_count,
	       created_at, updated_at`

// Insert stores a new recommendation
func (r *RecommendationRepository) Insert(rec *Recommendation) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = StatusPending
	}

	var expiresAt interface{}
	if rec.ExpiresAt != nil {
		expiresAt = rec.ExpiresAt.Unix()
	}

	_, err := r.db.Exec(`
		INSERT INTO recommendations (
			uuid, owner_id, target_kind, target_ref, rec_type, payload,
			confidence, priority, status, snapshot_ids, trigger_key,
			expires_at, acted_by, superseded_by, avg_rating, rating_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UUID, rec.OwnerID, string(rec.TargetKind), rec.TargetRef,
		string(rec.Type), nullString(rec.Payload), rec.Confidence, rec.Priority,
		string(rec.Status), nullString(rec.SnapshotIDs), rec.TriggerKey,
		expiresAt, nullString(rec.ActedBy), nullString(rec.SupersededBy),
		rec.AvgRating, rec.RatingCount, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert recommendation %s: %w", rec.UUID, err)
	}
	return nil
}

// GetByID retrieves a recommendation by uuid
func (r *RecommendationRepository) GetByID(uuid string) (*Recommendation, error) {
	row := r.db.QueryRow(selectRecColumns+" FROM recommendations WHERE uuid = ?", uuid)
	rec, err := scanRecommendation(row)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("recommendation %s not found", uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendation %s: %w", uuid, err)
	}
	return rec, nil
}

// ListByOwner returns recommendations for an owner, optionally filtered by
// status, ordered by priority then recency
func (r *RecommendationRepository) ListByOwner(ownerID string, status Status, limit int) ([]*Recommendation, error) {
	if limit <= 0 {
		limit = 100
	}

	query := selectRecColumns + " FROM recommendations WHERE owner_id = ?"
	args := []interface{}{ownerID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY priority DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations for %s: %w", ownerID, err)
	}
	defer rows.Close()

	return scanRecommendations(rows)
}

// HasRecentTrigger reports whether any recommendation with the same
// (owner, trigger key) was created at or after the cutoff, regardless of
// status. This is the sweep's idempotence check: an unchanged condition
// inside the window produces nothing new.
func (r *RecommendationRepository) HasRecentTrigger(ownerID, triggerKey string, since time.Time) (bool, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM recommendations
		WHERE owner_id = ? AND trigger_key = ? AND created_at >= ?`,
		ownerID, triggerKey, since.Unix(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check trigger %s for %s: %w", triggerKey, ownerID, err)
	}
	return count > 0, nil
}

// UpdateStatus performs a guarded status transition. The WHERE clause pins
// the expected current status so concurrent actors cannot double-act.
func (r *RecommendationRepository) UpdateStatus(uuid string, from, to Status, actedBy string) error {
	result, err := r.db.Exec(`
		UPDATE recommendations SET status = ?, acted_by = ?, updated_at = ?
		WHERE uuid = ? AND status = ?`,
		string(to), nullString(actedBy), time.Now().UTC().Unix(),
		uuid, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update recommendation %s status: %w", uuid, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check status update for %s: %w", uuid, err)
	}
	if affected == 0 {
		return domain.Conflictf("recommendation %s is no longer %s", uuid, from)
	}
	return nil
}

// MarkSuperseded links an old record to its replacement and expires it if
// it was still active
func (r *RecommendationRepository) MarkSuperseded(oldUUID, newUUID string) error {
	_, err := r.db.Exec(`
		UPDATE recommendations SET
			superseded_by = ?,
			status = CASE WHEN status IN ('pending', 'approved') THEN 'expired' ELSE status END,
			updated_at = ?
		WHERE uuid = ?`,
		newUUID, time.Now().UTC().Unix(), oldUUID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark recommendation %s superseded: %w", oldUUID, err)
	}
	return nil
}

// ExpireOverdue moves pending and approved recommendations past their
// expiry to expired. Returns the number of rows affected.
func (r *RecommendationRepository) ExpireOverdue(now time.Time) (int64, error) {
	result, err := r.db.Exec(`
		UPDATE recommendations SET status = 'expired', updated_at = ?
		WHERE status IN ('pending', 'approved')
		  AND expires_at IS NOT NULL AND expires_at < ?`,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire recommendations: %w", err)
	}
	expired, _ := result.RowsAffected()
	return expired, nil
}

// UpdateRatingStats writes the rolling feedback aggregates onto a recommendation
func (r *RecommendationRepository) UpdateRatingStats(uuid string, avgRating float64, ratingCount int) error {
	_, err := r.db.Exec(`
		UPDATE recommendations SET avg_rating = ?, rating_count = ?, updated_at = ?
		WHERE uuid = ?`,
		avgRating, ratingCount, time.Now().UTC().Unix(), uuid,
	)
	if err != nil {
		return fmt.Errorf("failed to update rating stats for %s: %w", uuid, err)
	}
	return nil
}

// AcceptanceStats returns how often an owner's recommendations of a given
// type were accepted (approved or implemented) out of all decided ones.
func (r *RecommendationRepository) AcceptanceStats(ownerID string, recType RecType) (rate float64, decided int, err error) {
	var accepted int
	err = r.db.QueryRow(`
		SELECT
			COUNT(CASE WHEN status IN ('approved', 'implemented') THEN 1 END),
			COUNT(*)
		FROM recommendations
		WHERE owner_id = ? AND rec_type = ? AND status != 'pending'`,
		ownerID, string(recType),
	).Scan(&accepted, &decided)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get acceptance stats for %s/%s: %w", ownerID, recType, err)
	}
	if decided == 0 {
		return 0, 0, nil
	}
	return float64(accepted) / float64(decided), decided, nil
}

// DeleteTerminalOlderThan garbage-collects terminal recommendations whose
// last update is before the cutoff
func (r *RecommendationRepository) DeleteTerminalOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM recommendations
		WHERE status IN ('implemented', 'rejected', 'expired') AND updated_at < ?`,
		cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to garbage-collect recommendations: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecommendation(row rowScanner) (*Recommendation, error) {
	var rec Recommendation
	var targetKind, recType, status string
	var payload, snapshotIDs, actedBy, supersededBy sql.NullString
	var expiresAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&rec.UUID, &rec.OwnerID, &targetKind, &rec.TargetRef, &recType,
		&payload, &rec.Confidence, &rec.Priority, &status, &snapshotIDs,
		&rec.TriggerKey, &expiresAt, &actedBy, &supersededBy,
		&rec.AvgRating, &rec.RatingCount, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.TargetKind = TargetKind(targetKind)
	rec.Type = RecType(recType)
	rec.Status = Status(status)
	rec.Payload = payload.String
	rec.SnapshotIDs = snapshotIDs.String
	rec.ActedBy = actedBy.String
	rec.SupersededBy = supersededBy.String
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0).UTC()
		rec.ExpiresAt = &t
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &rec, nil
}

func scanRecommendations(rows *sql.Rows) ([]*Recommendation, error) {
	var recs []*Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendations: %w", err)
	}
	return recs, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
