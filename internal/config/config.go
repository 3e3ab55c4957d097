package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	autherrors "github.com/alexjbarnes/authkeeper/internal/errors"
	"github.com/alexjbarnes/authkeeper/internal/retry"
	"github.com/alexjbarnes/authkeeper/internal/securestore"
)

// Config holds all environment-based configuration for authkeeper.
type Config struct {
	// Client identity. ClientID is required.
	ClientID        string   `env:"AUTH_CLIENT_ID"`
	ClientUniqueKey string   `env:"AUTH_CLIENT_UNIQUE_KEY"`
	ClientSecret    string   `env:"AUTH_CLIENT_SECRET"`
	Scopes          []string `env:"AUTH_SCOPES" envSeparator:","`

	// Token endpoint of the authorization server.
	TokenURL string `env:"AUTH_TOKEN_URL"`

	// Key the tokens are stored under. Defaults to the client ID.
	CredentialsKey string `env:"AUTH_CREDENTIALS_KEY"`

	// Tokens are renewed this long before they expire.
	ExpiryLeeway time.Duration `env:"AUTH_EXPIRY_LEEWAY" envDefault:"30s"`

	// Token storage
	StoreBackend    string `env:"STORE_BACKEND" envDefault:"bolt"`
	StorePath       string `env:"STORE_PATH"`
	StorePassphrase string `env:"STORE_PASSPHRASE"`
	RedisURL        string `env:"REDIS_URL"`

	// Retries for refresh and bootstrap grants. Only server errors are retried.
	RetryCount  int           `env:"RETRY_COUNT" envDefault:"3"`
	RetryDelay  time.Duration `env:"RETRY_DELAY" envDefault:"500ms"`
	RetryFactor int           `env:"RETRY_FACTOR" envDefault:"2"`
	RetryJitter float64       `env:"RETRY_JITTER" envDefault:"0.2"`

	// Upper bound on any single wait between retries.
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`

	// Retries for the legacy credential upgrade. Every failure is retried.
	UpgradeRetryCount  int           `env:"UPGRADE_RETRY_COUNT" envDefault:"5"`
	UpgradeRetryDelay  time.Duration `env:"UPGRADE_RETRY_DELAY" envDefault:"1s"`
	UpgradeRetryFactor int           `env:"UPGRADE_RETRY_FACTOR" envDefault:"2"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the client secret to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.ClientUniqueKey == "" {
		hostname, err := os.Hostname()
		if err == nil {
			cfg.ClientUniqueKey = hostname
		}
	}

	if cfg.CredentialsKey == "" {
		cfg.CredentialsKey = cfg.ClientID
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w: %w", autherrors.ErrInvalidConfig, err)
	}

	return cfg, nil
}

var storeBackends = []string{
	string(securestore.KindBolt),
	string(securestore.KindKeyring),
	string(securestore.KindFile),
	string(securestore.KindRedis),
}

func (c *Config) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("AUTH_CLIENT_ID is required")
	}

	if c.TokenURL == "" {
		return fmt.Errorf("AUTH_TOKEN_URL is required")
	}

	u, err := url.Parse(c.TokenURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("AUTH_TOKEN_URL must be an http or https URL")
	}

	if c.ExpiryLeeway < 0 {
		return fmt.Errorf("AUTH_EXPIRY_LEEWAY must not be negative")
	}

	if !slices.Contains(storeBackends, c.StoreBackend) {
		return fmt.Errorf("STORE_BACKEND must be one of %v, got %q", storeBackends, c.StoreBackend)
	}

	if c.StoreBackend == string(securestore.KindRedis) && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when STORE_BACKEND is redis")
	}

	if c.RetryCount < 0 || c.UpgradeRetryCount < 0 {
		return fmt.Errorf("RETRY_COUNT and UPGRADE_RETRY_COUNT must not be negative")
	}

	if c.RetryFactor < 1 || c.UpgradeRetryFactor < 1 {
		return fmt.Errorf("RETRY_FACTOR and UPGRADE_RETRY_FACTOR must be at least 1")
	}

	if c.RetryMaxDelay <= 0 {
		return fmt.Errorf("RETRY_MAX_DELAY must be positive")
	}

	if c.RetryJitter < 0 || c.RetryJitter >= 1 {
		return fmt.Errorf("RETRY_JITTER must be in [0, 1)")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// RetryPolicy is the policy for refresh and bootstrap grants.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Default(c.RetryCount, c.RetryDelay, c.RetryFactor).
		WithJitter(c.RetryJitter).
		WithMaxDelay(c.RetryMaxDelay)
}

// UpgradePolicy is the policy for the legacy credential upgrade.
func (c *Config) UpgradePolicy() retry.Policy {
	return retry.Upgrade(c.UpgradeRetryCount, c.UpgradeRetryDelay, c.UpgradeRetryFactor).
		WithMaxDelay(c.RetryMaxDelay)
}

// StoreOptions describes the configured token backend.
func (c *Config) StoreOptions() securestore.Options {
	return securestore.Options{
		Kind:       securestore.Kind(c.StoreBackend),
		Path:       c.StorePath,
		RedisURL:   c.RedisURL,
		Passphrase: c.StorePassphrase,
	}
}
