package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Catalog (TMDB)
	TMDBAPIKey          string
	TMDBBaseURL         string
	CatalogCacheTTL     time.Duration
	CatalogRatePerSec   float64
	CatalogMaxRetries   uint64
	CatalogBreakerTrips uint32

	// Identity
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	// Server
	ServerPort string

	// Scheduler
	ReconcileSchedule string // cron spec, empty disables the job

	// Activity
	ActivityBuffer int

	// Tracing
	TracingEnabled bool

	// Paths
	DatabaseFile  string // $CONFIG_DIR/watchlog.db
	BlocklistFile string // $CONFIG_DIR/blocklist.txt

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	// Setup viper FIRST to load .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = v.ReadInConfig()

	setDefaults(v)

	configDir, err := resolveConfigDir(v.GetString("CONFIG_DIR"))
	if err != nil {
		return nil, err
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	databaseFile := v.GetString("DATABASE_FILE")
	if databaseFile == "" {
		databaseFile = filepath.Join(configDir, "watchlog.db")
	}
	blocklistFile := v.GetString("BLOCKLIST_FILE")
	if blocklistFile == "" {
		blocklistFile = filepath.Join(configDir, "blocklist.txt")
	}

	cfg := &Config{
		// Catalog
		TMDBAPIKey:          v.GetString("TMDB_API_KEY"),
		TMDBBaseURL:         v.GetString("TMDB_BASE_URL"),
		CatalogCacheTTL:     time.Duration(v.GetInt("CATALOG_CACHE_TTL_MINUTES")) * time.Minute,
		CatalogRatePerSec:   v.GetFloat64("CATALOG_RATE_PER_SECOND"),
		CatalogMaxRetries:   v.GetUint64("CATALOG_MAX_RETRIES"),
		CatalogBreakerTrips: v.GetUint32("CATALOG_BREAKER_FAILURES"),

		// Identity
		JWTSecret: v.GetString("JWT_SECRET"),
		JWTIssuer: v.GetString("JWT_ISSUER"),
		TokenTTL:  time.Duration(v.GetInt("TOKEN_TTL_HOURS")) * time.Hour,

		// Server
		ServerPort: v.GetString("SERVER_PORT"),

		// Scheduler
		ReconcileSchedule: v.GetString("RECONCILE_SCHEDULE"),

		// Activity
		ActivityBuffer: v.GetInt("ACTIVITY_BUFFER"),

		// Tracing
		TracingEnabled: v.GetBool("TRACING_ENABLED"),

		// Paths
		DatabaseFile:  databaseFile,
		BlocklistFile: blocklistFile,

		// Logging
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("TMDB_BASE_URL", "https://api.themoviedb.org/3")
	v.SetDefault("CATALOG_CACHE_TTL_MINUTES", 60)
	v.SetDefault("CATALOG_RATE_PER_SECOND", 20)
	v.SetDefault("CATALOG_MAX_RETRIES", 3)
	v.SetDefault("CATALOG_BREAKER_FAILURES", 5)
	v.SetDefault("JWT_ISSUER", "watchlog")
	v.SetDefault("TOKEN_TTL_HOURS", 24*30)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("RECONCILE_SCHEDULE", "0 */6 * * *")
	v.SetDefault("ACTIVITY_BUFFER", 256)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

func resolveConfigDir(configDir string) (string, error) {
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", "watchlog"), nil
	}

	// Convert relative path to absolute path
	absPath, err := filepath.Abs(configDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
	}
	return absPath, nil
}

// ValidateServe checks the fields the HTTP server cannot run without
func (c *Config) ValidateServe() error {
	if c.TMDBAPIKey == "" {
		return fmt.Errorf("TMDB_API_KEY is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	return nil
}

// ValidateCatalog checks the fields the catalog client needs
func (c *Config) ValidateCatalog() error {
	if c.TMDBAPIKey == "" {
		return fmt.Errorf("TMDB_API_KEY is required")
	}
	return nil
}
