package storage

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), DialectSQLite, ":memory:", Pool{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, query string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query).Scan(&n))
	return n
}

func TestApplyMigrations(t *testing.T) {
	ctx := context.Background()

	t.Run("applies files in name order and records them", func(t *testing.T) {
		db := openMemory(t)
		migrations := fstest.MapFS{
			"0002_index.sql":  {Data: []byte("-- +migrate Up\nCREATE INDEX items_name ON items(name);\n-- +migrate Down\nDROP INDEX items_name;")},
			"0001_create.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY, name TEXT);")},
			"README.md":       {Data: []byte("not a migration")},
		}

		require.NoError(t, ApplyMigrations(ctx, db, DialectSQLite, migrations, ""))
		assert.Equal(t, 2, countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"))
		assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'items_name'"))
	})

	t.Run("replaying is a no-op", func(t *testing.T) {
		db := openMemory(t)
		migrations := fstest.MapFS{
			"0001_create.sql": {Data: []byte("CREATE TABLE items(id TEXT PRIMARY KEY);")},
		}

		require.NoError(t, ApplyMigrations(ctx, db, DialectSQLite, migrations, "."))
		require.NoError(t, ApplyMigrations(ctx, db, DialectSQLite, migrations, "."))
		assert.Equal(t, 1, countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"))
	})

	t.Run("failed migration is not recorded", func(t *testing.T) {
		db := openMemory(t)
		migrations := fstest.MapFS{
			"0001_broken.sql": {Data: []byte("CREATE TABLE items(")},
		}

		err := ApplyMigrations(ctx, db, DialectSQLite, migrations, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "0001_broken.sql")
		assert.Equal(t, 0, countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"))
	})

	t.Run("reads from a subdirectory", func(t *testing.T) {
		db := openMemory(t)
		migrations := fstest.MapFS{
			"sqlite/0001_create.sql": {Data: []byte("CREATE TABLE items(id TEXT PRIMARY KEY);")},
		}

		require.NoError(t, ApplyMigrations(ctx, db, DialectSQLite, migrations, "sqlite"))
		assert.Equal(t, 0, countRows(t, db, "SELECT COUNT(*) FROM items"))
	})
}

func TestExtractUpMigration(t *testing.T) {
	assert.Equal(t, "\nA;\n", ExtractUpMigration("-- +migrate Up\nA;\n-- +migrate Down\nB;"))
	assert.Equal(t, "\nA;", ExtractUpMigration("-- +migrate Up\nA;"))
	assert.Equal(t, "A;", ExtractUpMigration("A;"))
}
