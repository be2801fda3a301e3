package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the daemon.
type Config struct {
	Port string
	Env  string

	// Remote store endpoints. When both are empty the daemon runs in
	// offline mode against the local SQLite store.
	DatabaseURL string
	RedisURL    string
	SQLitePath  string

	// Identity of the local user this session acts as.
	UserID      string
	DisplayName string
	AvatarURL   string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/slackhub.db"),
		UserID:      os.Getenv("USER_ID"),
		DisplayName: getEnv("DISPLAY_NAME", "anonymous"),
		AvatarURL:   os.Getenv("AVATAR_URL"),
	}

	// In production, require a real backend and an identity
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" && cfg.RedisURL == "" {
			panic("DATABASE_URL or REDIS_URL is required in production")
		}
		if cfg.UserID == "" {
			panic("USER_ID is required in production")
		}
	}

	return cfg
}

// Offline reports whether no remote backend is configured.
func (c *Config) Offline() bool {
	return c.DatabaseURL == "" && c.RedisURL == ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
