package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectWithoutDriver(t *testing.T) {
	db, err := Connect(config.DatabaseConfig{})
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestConnectRejectsUnknownDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestSQLiteMigrateAndPing(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "history.db")
	db, err := Connect(config.DatabaseConfig{Driver: DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	require.NotNil(t, db)

	require.NoError(t, AutoMigrate(db))
	require.NoError(t, Ping(context.Background(), db))
	assert.True(t, db.Migrator().HasTable(&models.ResultRecord{}))
	assert.True(t, db.Migrator().HasIndex(&models.ResultRecord{}, "idx_result_file_time"))
}

func TestPostgresDSNFallback(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "svc")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "incidents")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_SSLMODE", "")

	assert.Equal(t, "host=db.internal user=svc password=pw dbname=incidents port=5432 sslmode=disable", postgresDSN(""))
	assert.Equal(t, "postgres://x", postgresDSN("postgres://x"))
}
