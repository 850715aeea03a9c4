// Package marketdata stores market context snapshots delivered by external
// feeds. Snapshots arrive pre-scored; nothing here computes market signals.
package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/vantage/internal/domain"
)

// Layer identifies which slice of market context a snapshot describes
type Layer string

const (
	LayerRegime Layer = "regime"
	LayerSector Layer = "sector"
	LayerAsset  Layer = "asset"
	LayerTiming Layer = "timing"
)

// Valid reports whether the layer is one of the known capability layers
func (l Layer) Valid() bool {
	switch l {
	case LayerRegime, LayerSector, LayerAsset, LayerTiming:
		return true
	}
	return false
}

// Snapshot is one observation of market context. The payload is an opaque
// msgpack blob; only id, layer, label, score, and confidence are queryable.
type Snapshot struct {
	UUID       string    `json:"uuid"`
	Layer      Layer     `json:"layer"`
	Label      string    `json:"label"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Payload    []byte    `json:"-"`
	ObservedAt time.Time `json:"observed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// DecodePayload unpacks the msgpack payload into dst
func (s *Snapshot) DecodePayload(dst interface{}) error {
	if len(s.Payload) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(s.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode snapshot %s payload: %w", s.UUID, err)
	}
	return nil
}

// SnapshotRepository handles market snapshot persistence in the cache database
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *sql.DB, logger zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: logger.With().Str("repo", "market_snapshots").Logger(),
	}
}

const selectSnapshotColumns = `
	SELECT uuid, layer, label, score, confidence, payload, observed_at, created_at`

// Insert stores a snapshot
func (r *SnapshotRepository) Insert(s *Snapshot) error {
	s.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO market_snapshots (uuid, layer, label, score, confidence, payload, observed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.UUID, string(s.Layer), s.Label, s.Score, s.Confidence,
		s.Payload, s.ObservedAt.Unix(), s.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot %s: %w", s.UUID, err)
	}
	return nil
}

// GetByID retrieves a snapshot by uuid
func (r *SnapshotRepository) GetByID(uuid string) (*Snapshot, error) {
	row := r.db.QueryRow(selectSnapshotColumns+" FROM market_snapshots WHERE uuid = ?", uuid)
	s, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("snapshot %s not found", uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s: %w", uuid, err)
	}
	return s, nil
}

// Latest returns the most recent snapshot for a layer
func (r *SnapshotRepository) Latest(layer Layer) (*Snapshot, error) {
	row := r.db.QueryRow(
		selectSnapshotColumns+` FROM market_snapshots
		WHERE layer = ? ORDER BY observed_at DESC LIMIT 1`,
		string(layer),
	)
	s, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("no %s snapshots", layer)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest %s snapshot: %w", layer, err)
	}
	return s, nil
}

// LatestPerLabel returns the most recent snapshot for each label in a layer.
// The advisor uses this to see current per-asset and per-sector scores.
func (r *SnapshotRepository) LatestPerLabel(layer Layer) ([]*Snapshot, error) {
	rows, err := r.db.Query(
		selectSnapshotColumns+` FROM market_snapshots
		WHERE layer = ? GROUP BY label HAVING observed_at = MAX(observed_at)
		ORDER BY label`,
		string(layer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest %s snapshots: %w", layer, err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// ListRecent returns the newest snapshots for a layer
func (r *SnapshotRepository) ListRecent(layer Layer, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(
		selectSnapshotColumns+` FROM market_snapshots
		WHERE layer = ? ORDER BY observed_at DESC LIMIT ?`,
		string(layer), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s snapshots: %w", layer, err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// DeleteOlderThan removes snapshots observed before the cutoff.
// Returns the number of rows removed.
func (r *SnapshotRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(
		"DELETE FROM market_snapshots WHERE observed_at < ?", cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var s Snapshot
	var layer string
	var payload []byte
	var observedAt, createdAt int64

	err := row.Scan(&s.UUID, &layer, &s.Label, &s.Score, &s.Confidence, &payload, &observedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	s.Layer = Layer(layer)
	s.Payload = payload
	s.ObservedAt = time.Unix(observedAt, 0).UTC()
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &s, nil
}

func scanSnapshots(rows *sql.Rows) ([]*Snapshot, error) {
	var snapshots []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}
