package app

import (
	"strings"
	"testing"

	"parley/internal/security/token"
)

func TestValidateSecurityConfig(t *testing.T) {
	longKey := strings.Repeat("k", 32)

	t.Run("policy off allows missing key", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, "")
		if err := ValidateSecurityConfig(Config{RequireTokenHMAC: false}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("policy on rejects missing key", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, "")
		err := ValidateSecurityConfig(Config{RequireTokenHMAC: true})
		if err == nil || !strings.Contains(err.Error(), "missing") {
			t.Fatalf("expected missing-key policy error, got %v", err)
		}
	})

	t.Run("policy on rejects short key", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, "short")
		err := ValidateSecurityConfig(Config{RequireTokenHMAC: true})
		if err == nil || !strings.Contains(err.Error(), "too short") {
			t.Fatalf("expected short-key policy error, got %v", err)
		}
	})

	t.Run("policy on accepts 32-byte key", func(t *testing.T) {
		t.Setenv(token.HMACEnvKey, longKey)
		if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !token.HMACEnabled() {
			t.Fatal("hasher should report HMAC mode")
		}
	})
}
