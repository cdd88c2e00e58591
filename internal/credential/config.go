package credential

import (
	"os"
	"time"
)

// TTL bounds for session credentials. The credential is the only thing
// authorizing a live connection, so its lifetime stays short and the client
// can never renew it; a new one requires a fresh exchange or a reconnect
// grant from the session registry.
const (
	minTTL = 5 * time.Minute
	maxTTL = 10 * time.Minute
)

// Config defines runtime configuration for session credentials.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	// TTL defines the fixed credential lifetime (clamped to 5-10 minutes).
	TTL time.Duration

	// ClockSkew defines the allowed time skew during verification.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to
	// sign PASETO v4.public credentials. Process-wide, never per-request.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() Config {
	return Config{
		Issuer:    "parley",
		TTL:       7 * time.Minute,
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads credential configuration from environment variables.
//
// Required:
//   - PARLEY_PASETO_V4_SECRET_KEY_HEX
//
// Optional:
//   - PARLEY_CREDENTIAL_ISSUER
//   - PARLEY_CREDENTIAL_TTL (clamped to [5m, 10m])
//   - PARLEY_CREDENTIAL_CLOCK_SKEW
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PARLEY_CREDENTIAL_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("PARLEY_CREDENTIAL_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}
	if cfg.TTL < minTTL {
		cfg.TTL = minTTL
	}
	if cfg.TTL > maxTTL {
		cfg.TTL = maxTTL
	}

	if v := os.Getenv("PARLEY_CREDENTIAL_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("PARLEY_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
