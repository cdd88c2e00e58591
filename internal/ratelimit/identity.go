package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// ClientIdentifier derives the rate-limit identifier for an HTTP request.
//
// Preference order: forwarded client IP headers (first X-Forwarded-For hop,
// then X-Real-IP), then the connection's remote host. When no address can
// be parsed at all, a per-connection fingerprint is derived instead so that
// anonymous clients never collapse onto a single shared bucket.
func ClientIdentifier(r *http.Request) string {
	if r == nil {
		return "unknown"
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return "ip_" + ip.String()
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return "ip_" + ip.String()
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return "ip_" + ip.String()
		}
	}

	return FingerprintIdentifier(r.RemoteAddr + "|" + r.UserAgent())
}

// FingerprintIdentifier hashes an arbitrary connection attribute set into a
// stable identifier. 16 digest bytes are enough to avoid collisions here.
func FingerprintIdentifier(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return "fp_" + hex.EncodeToString(sum[:16])
}

// SubjectIdentifier keys a bucket by an authenticated subject id.
func SubjectIdentifier(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "unknown"
	}
	return "sub_" + subject
}
