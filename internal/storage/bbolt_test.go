package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T, dir string) *BoltDB {
	t.Helper()
	db, err := NewBoltDB(dir, zap.NewNop().Sugar())
	require.NoError(t, err)
	return db
}

func TestNewBoltDBInitializesSchema(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir)
	defer db.Close()

	assert.Equal(t, filepath.Join(dir, DatabaseFileName), db.Path())

	version, err := db.GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(CurrentSchemaVersion), version)

	_, err = db.GetIdentity()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadOrCreateClientID(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir)

	calls := 0
	generate := func() string {
		calls++
		return "client_first"
	}

	id, created, err := db.LoadOrCreateClientID(generate)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "client_first", id)

	id, created, err = db.LoadOrCreateClientID(func() string { return "client_second" })
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "client_first", id)
	assert.Equal(t, 1, calls)

	require.NoError(t, db.Close())

	// Survives reopen
	db = openTestDB(t, dir)
	defer db.Close()

	record, err := db.GetIdentity()
	require.NoError(t, err)
	assert.Equal(t, "client_first", record.ClientID)
	assert.False(t, record.Created.IsZero())
}

func TestDeleteIdentity(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()

	_, _, err := db.LoadOrCreateClientID(func() string { return "client_a" })
	require.NoError(t, err)
	require.NoError(t, db.DeleteIdentity())

	id, created, err := db.LoadOrCreateClientID(func() string { return "client_b" })
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "client_b", id)
}

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir)
	defer db.Close()

	_, _, err := db.LoadOrCreateClientID(func() string { return "client_backup" })
	require.NoError(t, err)

	backupDir := t.TempDir()
	require.NoError(t, db.Backup(filepath.Join(backupDir, DatabaseFileName)))

	restored := openTestDB(t, backupDir)
	defer restored.Close()

	record, err := restored.GetIdentity()
	require.NoError(t, err)
	assert.Equal(t, "client_backup", record.ClientID)
}
