package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	config := DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	db, err := Open(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "./data/dropline.db", config.DatabasePath)
	assert.Equal(t, 10, config.MaxConnections)
	assert.Equal(t, time.Hour, config.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, config.ConnMaxIdleTime)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())

			_, err := Open(config)
			assert.Error(t, err)
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	config := &Config{DatabasePath: "/tmp/x.db"}
	assert.Equal(t, "/tmp/x.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", config.DSN())
}

func TestOpen_AppliesWAL(t *testing.T) {
	db := openTestDB(t)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestMigrationManager_ApplyMigrations(t *testing.T) {
	db := openTestDB(t)
	mm := NewMigrationManager(db)

	require.NoError(t, mm.ApplyMigrations())
	require.NoError(t, mm.ApplyMigrations(), "applying twice is a no-op")

	versions, err := mm.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, versions)

	assert.NoError(t, NewSchemaValidator(db).Validate())
}

func TestMigrationManager_LoadMigrations(t *testing.T) {
	mm := NewMigrationManager(openTestDB(t))

	migrations, err := mm.loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "transfers", migrations[0].Description)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS transfers")
}

func TestSchemaValidator_MissingTables(t *testing.T) {
	db := openTestDB(t)
	v := NewSchemaValidator(db)

	assert.Error(t, v.ValidateTablesExist())
	assert.Error(t, v.Validate())
}

func TestSchema_Constraints(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationManager(db).ApplyMigrations())

	insert := `INSERT INTO transfers (room_id, sender_id, file_name, file_size, total_chunks, mode, created_at)
		VALUES (?, 's', 'f', ?, ?, ?, CURRENT_TIMESTAMP)`

	_, err := db.Exec(insert, "ok", 10, 1, "relay")
	assert.NoError(t, err)

	_, err = db.Exec(insert, "bad-mode", 10, 1, "pigeon")
	assert.Error(t, err)

	_, err = db.Exec(insert, "negative", -1, 1, "relay")
	assert.Error(t, err)

	_, err = db.Exec(insert, "zero-chunks", 0, 0, "direct")
	assert.Error(t, err)

	_, err = db.Exec(`UPDATE transfers SET outcome = 'exploded' WHERE room_id = 'ok'`)
	assert.Error(t, err)
}
