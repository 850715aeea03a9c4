// Package watchlist tracks candidate assets owners are considering,
// separate from actual holdings. The global default list belongs to the
// "system" pseudo-owner so there is no special-cased global state.
package watchlist

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/domain"
)

// SystemOwner owns the global default watchlist
const SystemOwner = "system"

// Watchlist is a named collection of candidate assets
type Watchlist struct {
	UUID      string    `json:"uuid"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	Items     []Item    `json:"items,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is one asset on a watchlist
type Item struct {
	ID      int64     `json:"id"`
	Asset   string    `json:"asset"`
	Note    string    `json:"note,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Repository handles watchlist persistence in the portfolio database
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new watchlist repository
func NewRepository(db *sql.DB, logger zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: logger.With().Str("repo", "watchlists").Logger(),
	}
}

// Create makes a new watchlist for an owner
func (r *Repository) Create(ownerID, name string, isDefault bool) (*Watchlist, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.Validationf("owner id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Validationf("watchlist name is required")
	}

	now := time.Now().UTC()
	w := &Watchlist{
		UUID:      uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		IsDefault: isDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.db.Exec(`
		INSERT INTO watchlists (uuid, owner_id, name, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.UUID, w.OwnerID, w.Name, boolToInt(isDefault), now.Unix(), now.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, domain.Conflictf("owner %s already has a watchlist named %q", ownerID, name)
		}
		return nil, fmt.Errorf("failed to create watchlist: %w", err)
	}

	return w, nil
}

// Get retrieves a watchlist with its items
func (r *Repository) Get(listUUID string) (*Watchlist, error) {
	row := r.db.QueryRow(`
		SELECT uuid, owner_id, name, is_default, created_at, updated_at
		FROM watchlists WHERE uuid = ?`, listUUID)

	w, err := scanWatchlist(row)
	if err == sql.ErrNoRows {
		return nil, domain.NotFoundf("watchlist %s not found", listUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist %s: %w", listUUID, err)
	}

	items, err := r.items(listUUID)
	if err != nil {
		return nil, err
	}
	w.Items = items
	return w, nil
}

// ListByOwner returns an owner's watchlists without items
func (r *Repository) ListByOwner(ownerID string) ([]*Watchlist, error) {
	rows, err := r.db.Query(`
		SELECT uuid, owner_id, name, is_default, created_at, updated_at
		FROM watchlists WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlists for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var lists []*Watchlist
	for rows.Next() {
		w, err := scanWatchlist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watchlist: %w", err)
		}
		lists = append(lists, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watchlists: %w", err)
	}
	return lists, nil
}

// Default returns the owner's default watchlist, falling back to the
// system-owned global default when the owner has none.
func (r *Repository) Default(ownerID string) (*Watchlist, error) {
	for _, owner := range []string{ownerID, SystemOwner} {
		row := r.db.QueryRow(`
			SELECT uuid, owner_id, name, is_default, created_at, updated_at
			FROM watchlists WHERE owner_id = ? AND is_default = 1 LIMIT 1`, owner)
		w, err := scanWatchlist(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get default watchlist: %w", err)
		}
		items, err := r.items(w.UUID)
		if err != nil {
			return nil, err
		}
		w.Items = items
		return w, nil
	}
	return nil, domain.NotFoundf("no default watchlist for %s", ownerID)
}

// AddItem puts an asset on a watchlist
func (r *Repository) AddItem(listUUID, asset, note string) (*Item, error) {
	asset = domain.NormalizeAsset(asset)
	if asset == "" {
		return nil, domain.Validationf("asset is required")
	}
	if _, err := r.ownerOf(listUUID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result, err := r.db.Exec(`
		INSERT INTO watchlist_items (watchlist_uuid, asset, note, added_at)
		VALUES (?, ?, ?, ?)`,
		listUUID, asset, nullString(note), now.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, domain.Conflictf("asset %s is already on watchlist %s", asset, listUUID)
		}
		return nil, fmt.Errorf("failed to add %s to watchlist %s: %w", asset, listUUID, err)
	}

	id, _ := result.LastInsertId()
	return &Item{ID: id, Asset: asset, Note: note, AddedAt: now}, nil
}

// RemoveItem takes an asset off a watchlist
func (r *Repository) RemoveItem(listUUID, asset string) error {
	asset = domain.NormalizeAsset(asset)
	result, err := r.db.Exec(
		"DELETE FROM watchlist_items WHERE watchlist_uuid = ? AND asset = ?",
		listUUID, asset,
	)
	if err != nil {
		return fmt.Errorf("failed to remove %s from watchlist %s: %w", asset, listUUID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return domain.NotFoundf("asset %s is not on watchlist %s", asset, listUUID)
	}
	return nil
}

// Delete removes a watchlist and its items
func (r *Repository) Delete(listUUID string) error {
	result, err := r.db.Exec("DELETE FROM watchlists WHERE uuid = ?", listUUID)
	if err != nil {
		return fmt.Errorf("failed to delete watchlist %s: %w", listUUID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return domain.NotFoundf("watchlist %s not found", listUUID)
	}
	return nil
}

// Owners returns all distinct watchlist owners except the system pseudo-owner
func (r *Repository) Owners() ([]string, error) {
	rows, err := r.db.Query(
		"SELECT DISTINCT owner_id FROM watchlists WHERE owner_id != ?", SystemOwner,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var ownerID string
		if err := rows.Scan(&ownerID); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, ownerID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owners: %w", err)
	}
	return owners, nil
}

// IsWatched reports whether the asset appears on any of the owner's
// watchlists or on the system default
func (r *Repository) IsWatched(ownerID, asset string) (bool, error) {
	asset = domain.NormalizeAsset(asset)
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM watchlist_items wi
		JOIN watchlists w ON w.uuid = wi.watchlist_uuid
		WHERE wi.asset = ? AND w.owner_id IN (?, ?)`,
		asset, ownerID, SystemOwner,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check watch status for %s/%s: %w", ownerID, asset, err)
	}
	return count > 0, nil
}

func (r *Repository) ownerOf(listUUID string) (string, error) {
	var ownerID string
	err := r.db.QueryRow("SELECT owner_id FROM watchlists WHERE uuid = ?", listUUID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return "", domain.NotFoundf("watchlist %s not found", listUUID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve watchlist %s: %w", listUUID, err)
	}
	return ownerID, nil
}

func (r *Repository) items(listUUID string) ([]Item, error) {
	rows, err := r.db.Query(`
		SELECT id, asset, note, added_at FROM watchlist_items
		WHERE watchlist_uuid = ? ORDER BY asset`, listUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for watchlist %s: %w", listUUID, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var note sql.NullString
		var addedAt int64
		if err := rows.Scan(&item.ID, &item.Asset, &note, &addedAt); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist item: %w", err)
		}
		item.Note = note.String
		item.AddedAt = time.Unix(addedAt, 0).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watchlist items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWatchlist(row rowScanner) (*Watchlist, error) {
	var w Watchlist
	var isDefault int
	var createdAt, updatedAt int64
	err := row.Scan(&w.UUID, &w.OwnerID, &w.Name, &isDefault, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	w.IsDefault = isDefault == 1
	w.CreatedAt = time.Unix(createdAt, 0).UTC()
	w.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &w, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
