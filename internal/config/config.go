// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all env configuration vars for the backend.
type Config struct {
	DatabaseURL string

	// RedisURL is optional. Empty disables the revocation deny-list, the
	// login rate limiter, and the OAuth state store -- session revocation
	// then becomes eventual (takes effect when the token expires).
	RedisURL string

	Port     string
	LogLevel slog.Level

	// JWTSecret signs every issued bearer token (HS256).
	JWTSecret string

	// TokenTTL is the validity window of issued tokens. Default 168h (7 days).
	TokenTTL time.Duration

	// Google federated login. Optional -- empty ClientID disables the
	// /auth/google endpoints.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Bootstrap admin account, created at startup if the email is absent.
	// Both must be set together; password must satisfy the registration policy.
	AdminEmail    string
	AdminPassword string

	// BackupDir is where /admin/backup writes JSON exports. Default "backups".
	BackupDir string

	// Rate limit policy for login attempts per email.
	// Defaults: max=10, window=10m, lockout=15m.
	RateLoginMax     int
	RateLoginWindow  time.Duration
	RateLoginLockout time.Duration
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (DATABASE_URL, JWT_SECRET) are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}

	// Attempt to get port num, default to 5000
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "5000"
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.TokenTTL = envDuration("TOKEN_TTL", 168*time.Hour)

	// Google OAuth -- optional. Redirect URL only matters for the code flow
	// but must be present whenever a client id is configured.
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleClientID != "" && cfg.GoogleRedirectURL == "" {
		return nil, fmt.Errorf("GOOGLE_REDIRECT_URL must be set when GOOGLE_CLIENT_ID is")
	}

	// Bootstrap admin -- optional; both or neither. Replaces seeding a fixed
	// default password into the users table.
	cfg.AdminEmail = strings.ToLower(os.Getenv("ADMIN_EMAIL"))
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	if (cfg.AdminEmail == "") != (cfg.AdminPassword == "") {
		return nil, fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}

	cfg.BackupDir = os.Getenv("BACKUP_DIR")
	if cfg.BackupDir == "" {
		cfg.BackupDir = "backups"
	}

	// Rate limit: login by email. Invalid values fall back to the default so a
	// misconfigured env doesn't silently disable rate limiting.
	cfg.RateLoginMax = envInt("RATE_LOGIN_MAX", 10)
	cfg.RateLoginWindow = envDuration("RATE_LOGIN_WINDOW", 10*time.Minute)
	cfg.RateLoginLockout = envDuration("RATE_LOGIN_LOCKOUT", 15*time.Minute)

	return cfg, nil
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
