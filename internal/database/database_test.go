package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"wabagate/internal/vault"

	"github.com/stretchr/testify/require"
)

const testVaultSecret = "database-tests-vault-secret-0123456789"

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupTestDB(t *testing.T) (*Database, *testClock) {
	t.Helper()
	v, err := vault.New(testVaultSecret)
	require.NoError(t, err)

	db, err := New(filepath.Join(t.TempDir(), "test.db"), v)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	db.SetClock(clock.Now)
	return db, clock
}

func TestNew_RejectsTraversalPath(t *testing.T) {
	v, err := vault.New(testVaultSecret)
	require.NoError(t, err)

	_, err = New("../outside.db", v)
	require.Error(t, err)
}

func TestNew_RequiresVault(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "x.db"), nil)
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	db, _ := setupTestDB(t)
	require.NoError(t, db.Ping(context.Background()))
}
