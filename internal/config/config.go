package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const appDirName = "soloras"

// Config is the kiosk agent configuration.
type Config struct {
	APIBaseURL            string `env:"API_BASE_URL,required"`
	DataDir               string `env:"DATA_DIR"`
	ControlPort           int    `env:"CONTROL_PORT" envDefault:"7400"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	VaultMode             string `env:"VAULT_MODE" envDefault:"auto"`
	EncryptionKey         string `env:"ENCRYPTION_KEY"`
	LivenessMode          string `env:"LIVENESS_MODE" envDefault:"health"`
	PairingPollIntervalMs int    `env:"PAIRING_POLL_INTERVAL_MS" envDefault:"2000"`
	HealthIntervalSeconds int    `env:"HEALTH_INTERVAL_SECONDS" envDefault:"15"`
	HealthFailSafeSeconds int    `env:"HEALTH_FAILSAFE_SECONDS" envDefault:"10"`
	HTTPTimeoutSeconds    int    `env:"HTTP_TIMEOUT_SECONDS" envDefault:"30"`
}

func (c *Config) PairingPollInterval() time.Duration {
	return time.Duration(c.PairingPollIntervalMs) * time.Millisecond
}

func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

func (c *Config) HealthFailSafe() time.Duration {
	return time.Duration(c.HealthFailSafeSeconds) * time.Second
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// ControlAddr is loopback-only; the control API is for the local GUI shell.
func (c *Config) ControlAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.ControlPort)
}

func (c *Config) TokenPath() string {
	return filepath.Join(c.DataDir, DeviceTokenFile)
}

func (c *Config) VaultKeyPath() string {
	return filepath.Join(c.DataDir, VaultKeyFile)
}

func (c *Config) InstallationIDPath() string {
	return filepath.Join(c.DataDir, InstallationIDFile)
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL")
	}

	switch c.VaultMode {
	case VaultModeAuto, VaultModeOff:
	default:
		return fmt.Errorf("VAULT_MODE must be %q or %q", VaultModeAuto, VaultModeOff)
	}

	switch c.LivenessMode {
	case LivenessModeHealth, LivenessModeHeartbeat:
	default:
		return fmt.Errorf("LIVENESS_MODE must be %q or %q", LivenessModeHealth, LivenessModeHeartbeat)
	}

	if c.PairingPollIntervalMs <= 0 || c.HealthIntervalSeconds <= 0 || c.HealthFailSafeSeconds <= 0 {
		return fmt.Errorf("poll, health interval and fail-safe durations must be positive")
	}

	if c.EncryptionKey != "" && len(c.EncryptionKey) != 64 {
		return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters")
	}

	if c.VaultMode == VaultModeOff {
		log.Warn().Msg("VAULT_MODE=off: the device credential will be stored in plaintext")
	}
	if strings.HasPrefix(c.APIBaseURL, "http://") {
		log.Warn().Str("url", c.APIBaseURL).Msg("API_BASE_URL is not TLS: the device credential travels in cleartext")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = filepath.Join(base, appDirName)
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	return &cfg, nil
}

// SimConfig configures the hubsim reference backend.
type SimConfig struct {
	Port                   int    `env:"PORT" envDefault:"3008"`
	DatabaseURL            string `env:"DATABASE_URL,required"`
	RedisURL               string `env:"REDIS_URL,required"`
	EncryptionKey          string `env:"ENCRYPTION_KEY"`
	PairingTTLSeconds      int    `env:"PAIRING_TTL_SECONDS" envDefault:"300"`
	SessionRateLimitPerMin int    `env:"SESSION_RATE_LIMIT_PER_MIN" envDefault:"10"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *SimConfig) PairingTTL() time.Duration {
	return time.Duration(c.PairingTTLSeconds) * time.Second
}

func (c *SimConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *SimConfig) Validate(isProduction bool) error {
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 64 {
		return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
	}

	if isProduction {
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: issued device tokens are held unencrypted until delivered")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func LoadSim() (*SimConfig, error) {
	var cfg SimConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
