package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the messaging core.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	// Attachment blob storage directory.
	BlobDir string

	// Send quota: at most SendLimit sends per SendWindow per user.
	SendLimit  int
	SendWindow time.Duration

	// Ephemeral retention sweep cadence.
	SweepInterval time.Duration
}

// Load reads configuration from the environment. A .env file is honored
// in development; required values missing in any environment fail startup,
// as do malformed numeric or duration values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	sendLimit, err := getEnvInt("SEND_LIMIT", 60)
	if err != nil {
		return nil, err
	}
	sendWindow, err := getEnvDuration("SEND_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := getEnvDuration("SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		BlobDir:       getEnv("BLOB_DIR", "data/blobs"),
		SendLimit:     sendLimit,
		SendWindow:    sendWindow,
		SweepInterval: sweepInterval,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
