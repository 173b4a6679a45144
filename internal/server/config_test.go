package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfigDefaults tests the built-in defaults.
func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(8<<20), cfg.MaxMessageSize)
	assert.Equal(t, 5<<20, cfg.MaxImageSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 60*time.Second, cfg.Room.GracePeriod)
	assert.Equal(t, 720*time.Hour, cfg.Room.BlockDuration)
	assert.Equal(t, 30*time.Second, cfg.Room.ExpirySweep)
	assert.Equal(t, time.Hour, cfg.Room.BlocklistSweep)
	assert.Equal(t, 100, cfg.Room.MaxCapacity)
	assert.Equal(t, 7*24*time.Hour, cfg.Room.MaxDuration)
	assert.Equal(t, "veilchat.db", cfg.Persistence.Path)
	assert.Equal(t, 2*time.Second, cfg.Persistence.Debounce)
	assert.Equal(t, "NOTICE", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

// TestNewConfigFromEnv tests environment overrides. It verifies that valid
// values are applied and invalid ones fall back to the defaults.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("ALLOWED_ORIGINS", " https://a.test , https://b.test")
	t.Setenv("MAX_MESSAGE_SIZE", "4096")
	t.Setenv("MAX_IMAGE_SIZE", "not-a-number")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_WINDOW_MS", "250")
	t.Setenv("ROOM_GRACE_PERIOD", "5s")
	t.Setenv("ROOM_BLOCK_DURATION", "-1h")
	t.Setenv("ROOM_MAX_CAPACITY", "12")
	t.Setenv("PERSIST_DEBOUNCE", "100ms")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("METRICS_ENABLED", "false")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 5<<20, cfg.MaxImageSize)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.Window)
	assert.Equal(t, 5*time.Second, cfg.Room.GracePeriod)
	assert.Equal(t, 720*time.Hour, cfg.Room.BlockDuration)
	assert.Equal(t, 12, cfg.Room.MaxCapacity)
	assert.Equal(t, 100*time.Millisecond, cfg.Persistence.Debounce)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

// TestDataPathEmptyDisablesPersistence tests that an explicitly empty
// DATA_PATH clears the default path.
func TestDataPathEmptyDisablesPersistence(t *testing.T) {
	t.Setenv("DATA_PATH", "")
	assert.Empty(t, NewConfigFromEnv().Persistence.Path)
}

// TestLoadFile tests reading a TOML file on top of the defaults.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
Port = ":7000"
AllowedOrigins = ["https://chat.test"]

[RateLimit]
Burst = 20
Window = "2s"

[Room]
GracePeriod = "90s"
MaxCapacity = 8

[Persistence]
Path = "/var/lib/veilchat/state.db"

[Logging]
Level = "INFO"
`), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Port)
	assert.Equal(t, []string{"https://chat.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 90*time.Second, cfg.Room.GracePeriod)
	assert.Equal(t, 8, cfg.Room.MaxCapacity)
	assert.Equal(t, 720*time.Hour, cfg.Room.BlockDuration, "unset keys keep their defaults")
	assert.Equal(t, "/var/lib/veilchat/state.db", cfg.Persistence.Path)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

// TestLoadFileRejectsUnknownKeys tests that a misspelled key is an error.
func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("[Room]\nGracePerod = \"1s\"\n"), 0600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undecoded")

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

// TestSanitizeConfig tests that zero values become defaults and the image
// limit never exceeds the frame limit.
func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{MaxMessageSize: 1024, MaxImageSize: 4096})

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, 1024, cfg.MaxImageSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 60*time.Second, cfg.Room.GracePeriod)
	assert.Empty(t, cfg.Persistence.Path)
	assert.Equal(t, "NOTICE", cfg.Logging.Level)
}
