// Package config reads the service configuration from TASKSTREAM_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultAccessTokenMinutes = 15
	DefaultRefreshTokenDays   = 7
	DefaultListenAddr         = ":8080"
)

// Config is the full configuration surface of the identity service.
type Config struct {
	ListenAddr string

	// Token signing.
	JWTIssuer      string
	JWTAudience    string
	JWTSecret      string
	AccessTokenTTL time.Duration
	RefreshTTL     time.Duration

	// Backends. Empty values disable the corresponding integration and
	// fall back to in-process substitutes where one exists.
	RedisAddr     string
	RedisPassword string
	PostgresDSN   string
	NATSURL       string

	// Identity propagation across the internal boundary.
	PropagationPolicy string
	PropagationSecret string
}

// Load reads and validates configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:        envOr("TASKSTREAM_LISTEN_ADDR", DefaultListenAddr),
		JWTIssuer:         strings.TrimSpace(os.Getenv("TASKSTREAM_JWT_ISSUER")),
		JWTAudience:       strings.TrimSpace(os.Getenv("TASKSTREAM_JWT_AUDIENCE")),
		JWTSecret:         strings.TrimSpace(os.Getenv("TASKSTREAM_JWT_SECRET")),
		RedisAddr:         strings.TrimSpace(os.Getenv("TASKSTREAM_REDIS_ADDR")),
		RedisPassword:     os.Getenv("TASKSTREAM_REDIS_PASSWORD"),
		PostgresDSN:       strings.TrimSpace(os.Getenv("TASKSTREAM_PG_DSN")),
		NATSURL:           strings.TrimSpace(os.Getenv("TASKSTREAM_NATS_URL")),
		PropagationPolicy: envOr("TASKSTREAM_PROPAGATION_POLICY", "plain"),
		PropagationSecret: strings.TrimSpace(os.Getenv("TASKSTREAM_PROPAGATION_SECRET")),
	}

	accessMinutes, err := envInt("TASKSTREAM_ACCESS_TOKEN_MINUTES", DefaultAccessTokenMinutes)
	if err != nil {
		return Config{}, err
	}
	refreshDays, err := envInt("TASKSTREAM_REFRESH_TOKEN_DAYS", DefaultRefreshTokenDays)
	if err != nil {
		return Config{}, err
	}
	cfg.AccessTokenTTL = time.Duration(accessMinutes) * time.Minute
	cfg.RefreshTTL = time.Duration(refreshDays) * 24 * time.Hour

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("TASKSTREAM_JWT_SECRET is required")
	}
	if cfg.JWTIssuer == "" || cfg.JWTAudience == "" {
		return Config{}, fmt.Errorf("TASKSTREAM_JWT_ISSUER and TASKSTREAM_JWT_AUDIENCE are required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTTL <= 0 {
		return Config{}, fmt.Errorf("token lifetimes must be greater than zero")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
