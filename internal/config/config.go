// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/storefront-identity/internal/utils"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable; see Load for names and defaults.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	LogFormat string // "json" or "text"

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret       string        // secret used to sign access tokens
	JWTIssuer       string        // iss claim of access tokens
	AccessTTL       time.Duration // access token lifetime
	RefreshTTL      time.Duration // refresh token lifetime
	VerificationTTL time.Duration // email verification token lifetime
	BcryptCost      int           // bcrypt cost for passwords and access codes

	QueueURL          string        // AMQP URL; empty selects direct notification delivery
	NotifyMaxAttempts int           // delivery attempts per notification in queued mode
	NotifyBackoffBase time.Duration // first retry delay, doubled per attempt

	Mail      MailConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

// MailConfig configures the SMTP collaborator. An empty Host selects the
// log mailer.
type MailConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables win. TTL strings that do not parse fall back to one hour and
// are reported on logger.
func Load(logger *slog.Logger) Config {
	_ = godotenv.Load()

	return Config{
		Env:       envStr("APP_ENV", "dev"),
		Port:      envStr("APP_PORT", "8080"),
		LogFormat: envStr("LOG_FORMAT", "json"),

		DBUser: os.Getenv("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: os.Getenv("DB_HOST"),
		DBPort: envStr("DB_PORT", "3306"),
		DBName: os.Getenv("DB_NAME"),

		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTIssuer:       envStr("JWT_ISSUER", "storefront"),
		AccessTTL:       utils.TTL(logger, "ACCESS_TOKEN_TTL", envStr("ACCESS_TOKEN_TTL", "1h")),
		RefreshTTL:      utils.TTL(logger, "REFRESH_TOKEN_TTL", envStr("REFRESH_TOKEN_TTL", "30d")),
		VerificationTTL: utils.TTL(logger, "EMAIL_VERIFICATION_TTL", envStr("EMAIL_VERIFICATION_TTL", "24h")),
		BcryptCost:      envInt("BCRYPT_COST", 12),

		QueueURL:          envStr("QUEUE_URL", os.Getenv("RABBITMQ_URL")),
		NotifyMaxAttempts: envInt("NOTIFY_MAX_ATTEMPTS", 3),
		NotifyBackoffBase: envDur(logger, "NOTIFY_BACKOFF_BASE", time.Second),

		Mail: MailConfig{
			Host: os.Getenv("SMTP_HOST"),
			Port: envInt("SMTP_PORT", 587),
			User: os.Getenv("SMTP_USER"),
			Pass: os.Getenv("SMTP_PASS"),
			From: envStr("MAIL_FROM", "no-reply@localhost"),
		},
		Redis:     LoadRedisConfig(),
		RateLimit: LoadRateLimitConfig(logger),
	}
}

// Validate reports every missing or unusable setting. The process must not
// start when it returns an error.
func (c Config) Validate() error {
	var errs []error
	for _, req := range []struct{ key, val string }{
		{"DB_USER", c.DBUser},
		{"DB_HOST", c.DBHost},
		{"DB_NAME", c.DBName},
		{"JWT_SECRET", c.JWTSecret},
	} {
		if req.val == "" {
			errs = append(errs, fmt.Errorf("missing required env var: %s", req.key))
		}
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < utils.MinSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes: %w", utils.MinSecretLen, utils.ErrSecretTooShort))
	}
	if c.NotifyMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("NOTIFY_MAX_ATTEMPTS must be positive, got %d", c.NotifyMaxAttempts))
	}
	return errors.Join(errs...)
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

// envDur reads a duration setting; an unset variable means d, a bad one
// means d plus a config_warning.
func envDur(logger *slog.Logger, k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	return utils.DurationOr(logger, k, v, d)
}
