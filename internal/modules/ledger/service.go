package ledger

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/database"
	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/events"
)

// PositionFolder folds trade actions into positions. Implemented by the
// portfolio aggregator; defined here so the ledger does not import it.
type PositionFolder interface {
	LockPair(ownerID, asset string) func()
	ApplyActionTx(tx *sql.Tx, a *domain.TradeAction) (*domain.Position, error)
}

// Service owns the append path: validate, fold, and persist atomically.
type Service struct {
	db     *sql.DB
	repo   *TradeActionRepository
	folder PositionFolder
	bus    *events.Bus
	log    zerolog.Logger
}

// NewService creates a new ledger service
func NewService(db *sql.DB, repo *TradeActionRepository, folder PositionFolder, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		repo:   repo,
		folder: folder,
		bus:    bus,
		log:    logger.With().Str("service", "ledger").Logger(),
	}
}

// Append validates a trade action, folds it into the position, and commits
// both writes in a single transaction. Either both land or neither does.
func (s *Service) Append(a *domain.TradeAction) (*domain.TradeAction, *domain.Position, error) {
	a.Asset = domain.NormalizeAsset(a.Asset)
	if a.Leverage == 0 {
		a.Leverage = 1.0
	}
	if a.Source == "" {
		a.Source = domain.SourceManual
	}
	if a.ExecutedAt.IsZero() {
		a.ExecutedAt = time.Now().UTC()
	}

	if err := a.Validate(); err != nil {
		return nil, nil, err
	}

	unlock := s.folder.LockPair(a.OwnerID, a.Asset)
	defer unlock()

	var pos *domain.Position
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		// Fold first: it validates exit bounds against the live position
		// and fills in the action's realized P&L slice before the insert.
		var err error
		pos, err = s.folder.ApplyActionTx(tx, a)
		if err != nil {
			return err
		}

		_, err = s.repo.InsertTx(tx, a)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Int64("action_id", a.ID).
		Str("owner", a.OwnerID).
		Str("asset", a.Asset).
		Str("kind", string(a.Kind)).
		Float64("quantity", a.Quantity).
		Msg("Trade action appended")

	s.bus.Emit(events.TradeAppended, events.TradeAppendedData{
		ActionID:   a.ID,
		OwnerID:    a.OwnerID,
		Asset:      a.Asset,
		Kind:       string(a.Kind),
		ExecutedAt: a.ExecutedAt,
	})
	s.bus.Emit(events.PositionChanged, events.PositionChangedData{
		OwnerID:  pos.OwnerID,
		Asset:    pos.Asset,
		Quantity: pos.Quantity,
		Status:   string(pos.Status),
		Version:  pos.Version,
	})

	return a, pos, nil
}
