package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server.
type Config struct {
	Port          string
	Env           string
	DatabaseURL   string
	MongoURL      string
	MongoDatabase string
	RedisURL      string

	JWTSecret string
	JWTIssuer string

	UploadDir string

	// Fan-out sizing
	FanoutLanes int
	FanoutQueue int
}

// ErrMissingSecret is returned in production when JWT_SECRET is unset.
var ErrMissingSecret = errors.New("JWT_SECRET is required in production")

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MongoURL:      os.Getenv("MONGO_URL"),
		MongoDatabase: getEnv("MONGO_DATABASE", "ghost"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWTIssuer:     os.Getenv("JWT_ISSUER"),
		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		FanoutLanes:   getEnvInt("FANOUT_LANES", 8),
		FanoutQueue:   getEnvInt("FANOUT_QUEUE", 256),
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, ErrMissingSecret
		}
		cfg.JWTSecret = "dev-secret"
	}

	return cfg, nil
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

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return defaultValue
}
