// Package token provides token hashing primitives for Parley.
//
// It is the single source of truth for invite-token hashing behavior.
// Invite tokens are opaque, high-entropy random strings; only their digest
// is ever persisted, and lookups happen by digest so no raw-token
// comparison exists anywhere in the system. The digest is a stable 64-char
// hex string suitable for storage and indexed lookup.
//
// Environment:
//   - PARLEY_TOKEN_HMAC_KEY: when set, digests are HMAC-SHA256(token, key).
//     Otherwise SHA-256(token) is used (dev fallback).
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "PARLEY_TOKEN_HMAC_KEY"
)

var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing
// a minimum byte length.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// HMACEnabled reports whether the env key is present (non-empty after trim).
func HMACEnabled() bool {
	return strings.TrimSpace(os.Getenv(HMACEnvKey)) != ""
}

// HashInviteTokenHex hashes invite tokens for server-side storage.
// If PARLEY_TOKEN_HMAC_KEY is set, uses HMAC-SHA256(token, key); otherwise
// falls back to SHA-256(token) for dev.
func HashInviteTokenHex(token string) string {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		return HashSHA256Hex(token)
	}
	return HashHMACSHA256Hex(token, []byte(key))
}
