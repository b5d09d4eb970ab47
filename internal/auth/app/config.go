package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/service"
	"github.com/aussiebroadwan/erp/pkg/cryptox"
	"github.com/aussiebroadwan/erp/pkg/httpx"
	"github.com/aussiebroadwan/erp/pkg/jwtx"
	"gopkg.in/yaml.v3"
)

// Config is loaded from an optional YAML file (CONFIG_FILE) and then from
// the environment, which wins.
type Config struct {
	JWTSecret string `yaml:"jwt_secret"` // Required in prod: HS256 secret, at least 32 bytes
	JWTIssuer string `yaml:"jwt_issuer"` // Issuer claim for tokens (default: erp-auth)

	AccessTokenTTL       time.Duration `yaml:"access_token_ttl"`        // default: 24h
	RememberMeAccessTTL  time.Duration `yaml:"remember_me_access_ttl"`  // default: 7d
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl"`       // default: 7d
	RememberMeRefreshTTL time.Duration `yaml:"remember_me_refresh_ttl"` // default: 30d
	PasswordResetTTL     time.Duration `yaml:"password_reset_ttl"`      // default: 1h
	EmailVerificationTTL time.Duration `yaml:"email_verification_ttl"`  // default: 24h
	BcryptCost           int           `yaml:"bcrypt_cost"`             // default: 12

	RateLimitWindow      time.Duration `yaml:"rate_limit_window"`       // default: 15m
	RateLimitMaxAttempts int           `yaml:"rate_limit_max_attempts"` // default: 5

	RedisURL       string `yaml:"redis_url"`       // Optional: sessions and rate limits live in memory without it
	DatabaseDriver string `yaml:"database_driver"` // sqlite or postgres (default: sqlite)
	DatabaseURL    string `yaml:"database_url"`    // DSN or file path (default: erp-auth.db)
	BootstrapToken string `yaml:"bootstrap_token"` // Optional: enables POST /bootstrap

	// TrustedProxies lists the IPs and CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means the peer address is used.
	TrustedProxies []string `yaml:"trusted_proxies"`

	Env                  string        `yaml:"env"`                   // dev, staging, prod (default: dev)
	LogLevel             string        `yaml:"log_level"`             // debug, info, warn, error (default: info)
	LogFormat            string        `yaml:"log_format"`            // json, text (default: json)
	Port                 int           `yaml:"port"`                  // default: 8080
	RequestTimeout       time.Duration `yaml:"request_timeout"`       // default: 30s
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period"` // default: 10s
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval"` // default: 1h
	ExposeTokens         bool          `yaml:"expose_tokens"`         // log reset/verification tokens, never in prod
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		JWTIssuer:            "erp-auth",
		AccessTokenTTL:       jwtx.DefaultAccessTokenTTL,
		RememberMeAccessTTL:  jwtx.DefaultRememberMeAccessTTL,
		RefreshTokenTTL:      jwtx.DefaultRefreshTokenTTL,
		RememberMeRefreshTTL: jwtx.DefaultRememberMeRefreshTTL,
		PasswordResetTTL:     service.DefaultPasswordResetTTL,
		EmailVerificationTTL: service.DefaultEmailVerificationTTL,
		BcryptCost:           cryptox.DefaultCost,
		RateLimitWindow:      httpx.AuthLimit.Window,
		RateLimitMaxAttempts: httpx.AuthLimit.MaxAttempts,
		DatabaseDriver:       "sqlite",
		DatabaseURL:          "erp-auth.db",
		Env:                  "dev",
		LogLevel:             "info",
		LogFormat:            "json",
		Port:                 8080,
		RequestTimeout:       30 * time.Second,
		ShutdownGracePeriod:  10 * time.Second,
		HousekeepingInterval: 1 * time.Hour,
	}
}

// LoadConfig reads CONFIG_FILE, if set, then the environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.JWTSecret = getEnvOrDefault("JWT_SECRET", c.JWTSecret)
	c.JWTIssuer = getEnvOrDefault("JWT_ISSUER", c.JWTIssuer)

	c.AccessTokenTTL = getEnvDurationOrDefault("ACCESS_TOKEN_TTL", c.AccessTokenTTL)
	c.RememberMeAccessTTL = getEnvDurationOrDefault("REMEMBER_ME_ACCESS_TTL", c.RememberMeAccessTTL)
	c.RefreshTokenTTL = getEnvDurationOrDefault("REFRESH_TOKEN_TTL", c.RefreshTokenTTL)
	c.RememberMeRefreshTTL = getEnvDurationOrDefault("REMEMBER_ME_REFRESH_TTL", c.RememberMeRefreshTTL)
	c.PasswordResetTTL = getEnvDurationOrDefault("PASSWORD_RESET_TTL", c.PasswordResetTTL)
	c.EmailVerificationTTL = getEnvDurationOrDefault("EMAIL_VERIFICATION_TTL", c.EmailVerificationTTL)
	c.BcryptCost = getEnvIntOrDefault("BCRYPT_COST", c.BcryptCost)

	c.RateLimitWindow = getEnvDurationOrDefault("RATE_LIMIT_WINDOW", c.RateLimitWindow)
	c.RateLimitMaxAttempts = getEnvIntOrDefault("RATE_LIMIT_MAX_ATTEMPTS", c.RateLimitMaxAttempts)

	c.RedisURL = getEnvOrDefault("REDIS_URL", c.RedisURL)
	c.DatabaseDriver = getEnvOrDefault("DATABASE_DRIVER", c.DatabaseDriver)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.BootstrapToken = getEnvOrDefault("BOOTSTRAP_TOKEN", c.BootstrapToken)
	c.TrustedProxies = getEnvListOrDefault("TRUSTED_PROXIES", c.TrustedProxies)

	c.Env = getEnvOrDefault("ENV", c.Env)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
	c.Port = getEnvIntOrDefault("PORT", c.Port)
	c.RequestTimeout = getEnvDurationOrDefault("REQUEST_TIMEOUT", c.RequestTimeout)
	c.ShutdownGracePeriod = getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", c.ShutdownGracePeriod)
	c.HousekeepingInterval = getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", c.HousekeepingInterval)
	c.ExposeTokens = getEnvBoolOrDefault("EXPOSE_TOKENS", c.ExposeTokens)
}

// IsProd reports whether the service runs in production.
func (c Config) IsProd() bool { return c.Env == "prod" || c.Env == "production" }

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret != "" && len(c.JWTSecret) < jwtx.MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", jwtx.MinSecretLength))
	}
	if c.JWTSecret == "" && c.IsProd() {
		errs = append(errs, errors.New("JWT_SECRET is required in prod"))
	}
	if c.IsProd() && c.ExposeTokens {
		errs = append(errs, errors.New("EXPOSE_TOKENS must not be set in prod"))
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}
	if _, err := httpx.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %w", err))
	}
	if c.RateLimitMaxAttempts <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX_ATTEMPTS and RATE_LIMIT_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.Split(value, ",")
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
