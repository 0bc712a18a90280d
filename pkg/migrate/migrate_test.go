package migrate

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsApplyOnSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:migrate_embedded?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, RunEmbedded(context.Background(), sqlDB, "sqlite3", "up"))

	for _, table := range []string{"deposits", "audit_logs", "notification_records"} {
		assert.True(t, conn.Migrator().HasTable(table), "expected table %s", table)
	}
	assert.True(t, conn.Migrator().HasColumn("deposits", "version"))
	assert.True(t, conn.Migrator().HasColumn("notification_records", "archived_at"))
}

func TestEmbeddedMigrationsCarryGooseMarkers(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), embeddedDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, entry := range entries {
		data, err := fs.ReadFile(Migrations(), embeddedDir+"/"+entry.Name())
		require.NoError(t, err)
		content := string(data)
		assert.True(t, strings.Contains(content, "-- +goose Up"), entry.Name())
		assert.True(t, strings.Contains(content, "-- +goose Down"), entry.Name())
	}
}

func TestValidateAcceptsEmbeddedMigrations(t *testing.T) {
	require.NoError(t, ValidateFS(Migrations(), embeddedDir))
}

func TestValidateDirReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("create_things.sql", "-- +goose Up\n-- +goose Down\n")
	write("20260101000000_a.sql", "-- +goose Up\nSELECT 1;\n-- +goose Down\n")
	write("20260101000000_b.sql", "-- +goose Up\nSELECT 1;\n-- +goose Down\n")
	write("20260101000100_no_down.sql", "-- +goose Up\nSELECT 1;\n")
	write("notes.txt", "ignored")

	err := ValidateDir(dir)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
	assert.Contains(t, err.Error(), "create_things.sql")
	assert.Contains(t, err.Error(), "already used by")
	assert.Contains(t, err.Error(), "missing \"-- +goose Down\"")
}

func TestNewMigrationFileSanitizesName(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	path, err := NewMigrationFile(dir, "Add Deposit Index!", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260304050607_add_deposit_index.sql"), path)
	require.NoError(t, ValidateDir(dir))

	_, err = NewMigrationFile(dir, "add deposit index", at)
	assert.Error(t, err, "existing file must not be overwritten")
	_, err = NewMigrationFile(dir, "!!!", at)
	assert.Error(t, err)
}
