package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644))
}

func TestLoadMigrationsSortsAndSkipsDown(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_add_receipts.sql", "CREATE TABLE b ();")
	writeMigration(t, dir, "001_initial_schema.sql", "CREATE TABLE a ();")
	writeMigration(t, dir, "001_initial_schema_down.sql", "DROP TABLE a;")
	writeMigration(t, dir, "notes.txt", "ignore me")

	m := NewMigrator(nil, dir)
	migrations, err := m.loadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "initial schema", migrations[0].Description)
	assert.Equal(t, "CREATE TABLE a ();", migrations[0].SQL)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, "add receipts", migrations[1].Description)
}

func TestLoadMigrationsRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "schema.sql", "CREATE TABLE a ();")

	m := NewMigrator(nil, dir)
	_, err := m.loadMigrations()
	assert.Error(t, err)
}
