package config

import "time"

// Local persisted state
const (
	DeviceTokenFile    = "device-token.bin"
	VaultKeyFile       = "vault.key"
	InstallationIDFile = "installation-id"
)

const (
	VaultModeAuto = "auto"
	VaultModeOff  = "off"

	LivenessModeHealth    = "health"
	LivenessModeHeartbeat = "heartbeat"
)

// Protocol defaults
const (
	DefaultPairingPollInterval = 2 * time.Second
	DefaultHealthInterval      = 15 * time.Second
	DefaultHealthFailSafe      = 10 * time.Second
)

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Presence keys outlive a few missed heartbeats.
const PresenceTTL = 60 * time.Second
