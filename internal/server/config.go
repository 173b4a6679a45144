package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Tyrowin/veilchat/internal/ratelimit"
	"github.com/Tyrowin/veilchat/internal/room"
	"github.com/Tyrowin/veilchat/internal/store"
)

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 8 << 20
	defaultDataPath       = "veilchat.db"
	defaultLogLevel       = "NOTICE"
)

// RateLimitConfig defines the per-connection chat rate limit: at most Burst
// messages in every Window.
type RateLimitConfig struct {
	Burst  int
	Window time.Duration
}

// RoomConfig holds the room lifecycle parameters.
type RoomConfig struct {
	GracePeriod    time.Duration
	BlockDuration  time.Duration
	ExpirySweep    time.Duration
	BlocklistSweep time.Duration
	MaxCapacity    int
	MaxDuration    time.Duration
}

// PersistenceConfig locates the state file. An empty Path keeps all state in
// memory.
type PersistenceConfig struct {
	Path     string
	Debounce time.Duration
}

// LoggingConfig configures the log backend.
type LoggingConfig struct {
	Disable bool
	File    string
	Level   string
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	MaxImageSize   int

	RateLimit   RateLimitConfig
	Room        RoomConfig
	Persistence PersistenceConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		MaxImageSize:   room.DefaultMaxImageSize,
		RateLimit: RateLimitConfig{
			Burst:  ratelimit.DefaultLimit,
			Window: ratelimit.DefaultWindow,
		},
		Room: RoomConfig{
			GracePeriod:    room.DefaultGracePeriod,
			BlockDuration:  room.DefaultBlockDuration,
			ExpirySweep:    room.DefaultExpirySweep,
			BlocklistSweep: room.DefaultBlocklistSweep,
			MaxCapacity:    room.DefaultMaxCapacity,
			MaxDuration:    room.DefaultMaxDuration,
		},
		Persistence: PersistenceConfig{
			Path:     defaultDataPath,
			Debounce: store.DefaultDebounce,
		},
		Logging: LoggingConfig{
			Level: defaultLogLevel,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// sanitizeConfig replaces unusable values with defaults and normalizes the
// origin allowlist.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxImageSize <= 0 {
		cfg.MaxImageSize = def.MaxImageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = def.RateLimit.Window
	}
	if cfg.Room.GracePeriod <= 0 {
		cfg.Room.GracePeriod = def.Room.GracePeriod
	}
	if cfg.Room.BlockDuration <= 0 {
		cfg.Room.BlockDuration = def.Room.BlockDuration
	}
	if cfg.Room.ExpirySweep <= 0 {
		cfg.Room.ExpirySweep = def.Room.ExpirySweep
	}
	if cfg.Room.BlocklistSweep <= 0 {
		cfg.Room.BlocklistSweep = def.Room.BlocklistSweep
	}
	if cfg.Room.MaxCapacity <= 0 {
		cfg.Room.MaxCapacity = def.Room.MaxCapacity
	}
	if cfg.Room.MaxDuration <= 0 {
		cfg.Room.MaxDuration = def.Room.MaxDuration
	}
	if cfg.Persistence.Debounce <= 0 {
		cfg.Persistence.Debounce = def.Persistence.Debounce
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}

	// An image is relayed inside a message frame, so the frame limit must
	// leave room for it.
	if int64(cfg.MaxImageSize) > cfg.MaxMessageSize {
		cfg.MaxImageSize = int(cfg.MaxMessageSize)
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadFile reads a TOML configuration file on top of the defaults. Keys the
// file sets that no field matches are reported as an error.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: undecoded keys in %s: %v", path, undecoded)
	}
	return &cfg, nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	cfg.ApplyEnv()
	return &cfg
}

// ApplyEnv overrides cfg with every configuration environment variable that
// is set. Unparsable values are ignored.
func (cfg *Config) ApplyEnv() {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}
	if maxImage := os.Getenv("MAX_IMAGE_SIZE"); maxImage != "" {
		cfg.MaxImageSize = parseIntValue(maxImage, cfg.MaxImageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if window := os.Getenv("RATE_LIMIT_WINDOW_MS"); window != "" {
		cfg.RateLimit.Window = parseMillis(window, cfg.RateLimit.Window)
	}

	if v := os.Getenv("ROOM_GRACE_PERIOD"); v != "" {
		cfg.Room.GracePeriod = parseDuration(v, cfg.Room.GracePeriod)
	}
	if v := os.Getenv("ROOM_BLOCK_DURATION"); v != "" {
		cfg.Room.BlockDuration = parseDuration(v, cfg.Room.BlockDuration)
	}
	if v := os.Getenv("ROOM_EXPIRY_SWEEP"); v != "" {
		cfg.Room.ExpirySweep = parseDuration(v, cfg.Room.ExpirySweep)
	}
	if v := os.Getenv("ROOM_BLOCKLIST_SWEEP"); v != "" {
		cfg.Room.BlocklistSweep = parseDuration(v, cfg.Room.BlocklistSweep)
	}
	if v := os.Getenv("ROOM_MAX_CAPACITY"); v != "" {
		cfg.Room.MaxCapacity = parseIntValue(v, cfg.Room.MaxCapacity)
	}
	if v := os.Getenv("ROOM_MAX_DURATION"); v != "" {
		cfg.Room.MaxDuration = parseDuration(v, cfg.Room.MaxDuration)
	}

	// DATA_PATH may be set to the empty string to disable persistence.
	if path, ok := os.LookupEnv("DATA_PATH"); ok {
		cfg.Persistence.Path = strings.TrimSpace(path)
	}
	if v := os.Getenv("PERSIST_DEBOUNCE"); v != "" {
		cfg.Persistence.Debounce = parseDuration(v, cfg.Persistence.Debounce)
	}

	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v, cfg.Metrics.Enabled)
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseMillis(value string, defaultValue time.Duration) time.Duration {
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}
