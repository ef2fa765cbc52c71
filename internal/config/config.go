// Package config loads and validates runtime configuration from the
// environment. Tunables that used to be implicit constants — the lockout
// threshold and duration, token lifetimes, the permission cache TTL — are
// validated here so a bad deployment fails at startup, not at request time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting of the service.
type Config struct {
	Env  string
	Addr string

	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	Issuer    string

	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	PermissionCacheTTL time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration

	BcryptCost int

	RatePerSecond int
	RateBurst     int
}

// Load reads SENTRA_* environment variables, applies defaults and validates
// the result.
func Load() (Config, error) {
	cfg := Config{
		Env:           getenv("SENTRA_ENV", "dev"),
		Addr:          getenv("SENTRA_ADDR", ":8080"),
		PostgresDSN:   os.Getenv("SENTRA_PG_DSN"),
		RedisAddr:     os.Getenv("SENTRA_REDIS_ADDR"),
		RedisPassword: os.Getenv("SENTRA_REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("SENTRA_JWT_SECRET"),
		Issuer:        getenv("SENTRA_ISSUER", "sentra"),
	}

	var err error
	if cfg.RedisDB, err = intvar("SENTRA_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.AccessTTL, err = durvar("SENTRA_ACCESS_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = durvar("SENTRA_REFRESH_TTL", 14*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.PermissionCacheTTL, err = durvar("SENTRA_PERM_CACHE_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.LockoutThreshold, err = intvar("SENTRA_LOCKOUT_THRESHOLD", 5); err != nil {
		return Config{}, err
	}
	if cfg.LockoutDuration, err = durvar("SENTRA_LOCKOUT_DURATION", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.BcryptCost, err = intvar("SENTRA_BCRYPT_COST", 0); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSecond, err = intvar("SENTRA_RATE_PER_SECOND", 25); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = intvar("SENTRA_RATE_BURST", 50); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the invariants the service depends on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("config: SENTRA_JWT_SECRET is required")
	}
	if c.AccessTTL <= 0 {
		return fmt.Errorf("config: access ttl must be positive, got %s", c.AccessTTL)
	}
	if c.RefreshTTL <= c.AccessTTL {
		return fmt.Errorf("config: refresh ttl %s must exceed access ttl %s", c.RefreshTTL, c.AccessTTL)
	}
	if c.PermissionCacheTTL <= 0 {
		return fmt.Errorf("config: permission cache ttl must be positive, got %s", c.PermissionCacheTTL)
	}
	if c.LockoutThreshold < 1 {
		return fmt.Errorf("config: lockout threshold must be at least 1, got %d", c.LockoutThreshold)
	}
	if c.LockoutDuration <= 0 {
		return fmt.Errorf("config: lockout duration must be positive, got %s", c.LockoutDuration)
	}
	if c.BcryptCost < 0 || c.BcryptCost > 31 {
		return fmt.Errorf("config: bcrypt cost %d out of range", c.BcryptCost)
	}
	if c.RatePerSecond < 1 || c.RateBurst < 1 {
		return fmt.Errorf("config: rate limits must be at least 1")
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intvar(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: expected integer, got %q", key, raw)
	}
	return n, nil
}

func durvar(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: expected duration, got %q", key, raw)
	}
	return d, nil
}
