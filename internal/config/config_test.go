package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "tunebridge", cfg.Database.DBName)

	assert.Equal(t, "localhost:6379", cfg.Redis.Address)

	assert.Equal(t, 6*time.Hour, cfg.Sync.DispatchInterval)
	assert.Equal(t, 24*time.Hour, cfg.Sync.Staleness)
	assert.Equal(t, 30*24*time.Hour, cfg.Sync.PurgeAfter)
	assert.Equal(t, 5*time.Minute, cfg.Sync.LockTimeout)

	assert.Equal(t, 10*time.Second, cfg.MusicBrainz.Timeout)
	assert.NotEmpty(t, cfg.MusicBrainz.UserAgent)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("TUNEBRIDGE_DATABASE_HOST", "db.internal")
	t.Setenv("TUNEBRIDGE_SPOTIFY_CLIENT_ID", "abc123")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "abc123", cfg.Spotify.ClientID)
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "postgres",
		Password: "secret", DBName: "tunebridge", SSLMode: "disable",
	}
	dsn := c.DSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=tunebridge")
	assert.Contains(t, dsn, "sslmode=disable")
}
