package watchlist_test

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aristath/vantage/internal/database"
	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/modules/watchlist"
)

func setupRepo(t *testing.T) *watchlist.Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := database.SchemaSQL("portfolio")
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	return watchlist.NewRepository(db, zerolog.Nop())
}

func TestCreateAndGet(t *testing.T) {
	repo := setupRepo(t)

	created, err := repo.Create("alice", "majors", false)
	require.NoError(t, err)

	_, err = repo.AddItem(created.UUID, "btc", "core holding")
	require.NoError(t, err)

	got, err := repo.Get(created.UUID)
	require.NoError(t, err)
	assert.Equal(t, "majors", got.Name)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "BTC", got.Items[0].Asset) // normalized
	assert.Equal(t, "core holding", got.Items[0].Note)
}

func TestCreate_DuplicateNameConflicts(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.Create("alice", "majors", false)
	require.NoError(t, err)

	_, err = repo.Create("alice", "majors", false)
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Same name for another owner is fine.
	_, err = repo.Create("bob", "majors", false)
	assert.NoError(t, err)
}

func TestAddItem_DuplicateAssetConflicts(t *testing.T) {
	repo := setupRepo(t)

	created, err := repo.Create("alice", "majors", false)
	require.NoError(t, err)

	_, err = repo.AddItem(created.UUID, "BTC", "")
	require.NoError(t, err)
	_, err = repo.AddItem(created.UUID, "btc", "")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestDefault_FallsBackToSystemList(t *testing.T) {
	repo := setupRepo(t)

	system, err := repo.Create(watchlist.SystemOwner, "global defaults", true)
	require.NoError(t, err)
	_, err = repo.AddItem(system.UUID, "BTC", "")
	require.NoError(t, err)

	// Alice has no default of her own yet.
	got, err := repo.Default("alice")
	require.NoError(t, err)
	assert.Equal(t, watchlist.SystemOwner, got.OwnerID)

	// Once she creates one, hers wins.
	_, err = repo.Create("alice", "mine", true)
	require.NoError(t, err)
	got, err = repo.Default("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
}

func TestIsWatched_IncludesSystemList(t *testing.T) {
	repo := setupRepo(t)

	system, err := repo.Create(watchlist.SystemOwner, "global defaults", true)
	require.NoError(t, err)
	_, err = repo.AddItem(system.UUID, "ETH", "")
	require.NoError(t, err)

	mine, err := repo.Create("alice", "mine", false)
	require.NoError(t, err)
	_, err = repo.AddItem(mine.UUID, "BTC", "")
	require.NoError(t, err)

	for asset, want := range map[string]bool{"BTC": true, "ETH": true, "SOL": false} {
		watched, err := repo.IsWatched("alice", asset)
		require.NoError(t, err)
		assert.Equal(t, want, watched, asset)
	}
}

func TestOwners_ExcludesSystem(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.Create(watchlist.SystemOwner, "global", true)
	require.NoError(t, err)
	_, err = repo.Create("alice", "mine", false)
	require.NoError(t, err)

	owners, err := repo.Owners()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, owners)
}

func TestRemoveItemAndDelete(t *testing.T) {
	repo := setupRepo(t)

	created, err := repo.Create("alice", "majors", false)
	require.NoError(t, err)
	_, err = repo.AddItem(created.UUID, "BTC", "")
	require.NoError(t, err)

	require.NoError(t, repo.RemoveItem(created.UUID, "BTC"))
	assert.ErrorIs(t, repo.RemoveItem(created.UUID, "BTC"), domain.ErrNotFound)

	require.NoError(t, repo.Delete(created.UUID))
	_, err = repo.Get(created.UUID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
