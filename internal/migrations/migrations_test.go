package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoad_SortedAndVersioned(t *testing.T) {
	all, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, 1, all[0].Version)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Version, all[i].Version)
	}
}

func TestApply_CreatesTablesOnce(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	applied, err := Apply(ctx, db)
	require.NoError(t, err)
	assert.Contains(t, applied, 1)

	for _, table := range []string{"whatsapp_accounts", "conversations", "messages", "templates", "outbound_queue", "webhook_events"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	again, err := Apply(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, again)
}
