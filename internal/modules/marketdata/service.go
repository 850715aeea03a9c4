package marketdata

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/events"
)

// IngestRequest is a snapshot as delivered by an external feed
type IngestRequest struct {
	Layer      string                 `json:"layer"`
	Label      string                 `json:"label"`
	Score      float64                `json:"score"`
	Confidence float64                `json:"confidence"`
	Payload    map[string]interface{} `json:"payload"`
	ObservedAt *time.Time             `json:"observed_at"`
}

// Service validates and stores incoming market context snapshots
type Service struct {
	repo *SnapshotRepository
	bus  *events.Bus
	log  zerolog.Logger
}

// NewService creates a new market data service
func NewService(repo *SnapshotRepository, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		bus:  bus,
		log:  logger.With().Str("service", "marketdata").Logger(),
	}
}

// Ingest validates an external snapshot and stores it.
// Malformed snapshots are rejected here so the advisor never sees them.
func (s *Service) Ingest(req *IngestRequest) (*Snapshot, error) {
	layer := Layer(strings.ToLower(strings.TrimSpace(req.Layer)))
	if !layer.Valid() {
		return nil, domain.Validationf("unknown snapshot layer %q", req.Layer)
	}
	if strings.TrimSpace(req.Label) == "" {
		return nil, domain.Validationf("snapshot label is required")
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return nil, domain.Validationf("confidence must be in [0, 1], got %f", req.Confidence)
	}

	observedAt := time.Now().UTC()
	if req.ObservedAt != nil {
		observedAt = req.ObservedAt.UTC()
	}

	var payload []byte
	if len(req.Payload) > 0 {
		var err error
		payload, err = msgpack.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode snapshot payload: %w", err)
		}
	}

	label := req.Label
	if layer == LayerAsset {
		label = domain.NormalizeAsset(label)
	}

	snapshot := &Snapshot{
		UUID:       uuid.New().String(),
		Layer:      layer,
		Label:      label,
		Score:      req.Score,
		Confidence: req.Confidence,
		Payload:    payload,
		ObservedAt: observedAt,
	}

	if err := s.repo.Insert(snapshot); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("snapshot", snapshot.UUID).
		Str("layer", string(layer)).
		Str("label", label).
		Float64("confidence", req.Confidence).
		Msg("Snapshot ingested")

	s.bus.Emit(events.SnapshotStored, events.SnapshotStoredData{
		SnapshotID: snapshot.UUID,
		Layer:      string(layer),
		Label:      label,
		Confidence: req.Confidence,
		ObservedAt: observedAt,
	})

	return snapshot, nil
}
