package common

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Database    DatabaseConfig  `toml:"database"`
	Tokens      TokenConfig     `toml:"tokens"`
	Admin       AdminConfig     `toml:"admin"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Reconcile   ReconcileConfig `toml:"reconcile"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	Host string `toml:"host"`
}

// DatabaseConfig holds the SQLite settings for the relational store.
type DatabaseConfig struct {
	// Path to the SQLite database file. Overridden by USERVICE_DATABASE_URI.
	Path          string `toml:"path" validate:"required"`
	CacheSizeMB   int    `toml:"cache_size_mb"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	WALMode       bool   `toml:"wal_mode"`
}

// TokenConfig holds the Badger-backed bearer token store settings.
type TokenConfig struct {
	Path            string `toml:"path"` // Badger directory; empty = in-memory
	DurationSeconds int    `toml:"duration_seconds" validate:"gt=0"`
}

// AdminConfig holds the bootstrap admin credentials. The admin user is not
// stored in the users table; it only exists for the admin endpoints.
type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// SchedulerConfig tunes the cross-project job dispatch.
type SchedulerConfig struct {
	// Number of unclaimed rows to draw a random job from. Keeps concurrent
	// fetches from piling onto the same row.
	FetchWindow int `toml:"fetch_window" validate:"gt=0"`
}

// ReconcileConfig controls the periodic project counter reconciliation task.
type ReconcileConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // cron format
}

// RateLimitConfig bounds the global request rate. Zero disables the limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns the built-in defaults, before any file or
// environment overrides.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 5000,
			Host: "0.0.0.0",
		},
		Database: DatabaseConfig{
			Path:          "./data/microq.db",
			CacheSizeMB:   32,
			BusyTimeoutMS: 5000,
			WALMode:       true,
		},
		Tokens: TokenConfig{
			Path:            "./data/tokens",
			DurationSeconds: 600,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "sqrrl",
		},
		Scheduler: SchedulerConfig{
			FetchWindow: 500,
		},
		Reconcile: ReconcileConfig{
			Enabled:  false,
			Schedule: "@every 10m",
		},
		RateLimit: RateLimitConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration from defaults, then merges each config
// file in order (later files override earlier ones), then applies
// environment variable overrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnvOverrides(config *Config) {
	// USERVICE_DATABASE_URI is the historical name for the backing store
	// location; it takes priority over the config file.
	if uri := os.Getenv("USERVICE_DATABASE_URI"); uri != "" {
		config.Database.Path = uri
	}
	if user := os.Getenv("USERVICE_ADMIN_USER"); user != "" {
		config.Admin.Username = user
	}
	if password := os.Getenv("USERVICE_ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	// USERV_API_PRODUCTION being set at all flips production mode.
	if _, ok := os.LookupEnv("USERV_API_PRODUCTION"); ok {
		config.Environment = "production"
	}

	if port := os.Getenv("MICROQ_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MICROQ_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if level := os.Getenv("MICROQ_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if path := os.Getenv("MICROQ_TOKEN_PATH"); path != "" {
		config.Tokens.Path = path
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration against the struct validation tags.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
