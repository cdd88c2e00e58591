package app

import (
	"errors"

	"parley/internal/security/token"
)

// ValidateSecurityConfig enforces Parley's security policy at startup.
//
// Fail-fast is intentional: the invite-token hasher falls back to plain
// SHA-256 when no HMAC key is configured, which is fine for dev but not
// under policy. Enforcement goes through the same package that performs
// the hashing so the check cannot drift from the runtime behavior.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// 32 bytes minimum for an HMAC-SHA256 secret, measured as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: PARLEY_REQUIRE_TOKEN_HMAC=true but PARLEY_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: PARLEY_REQUIRE_TOKEN_HMAC=true but PARLEY_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: PARLEY_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
