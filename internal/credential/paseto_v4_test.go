package credential

import (
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func testManager(t *testing.T, ttl time.Duration) Manager {
	t.Helper()

	cfg := DefaultConfig()
	cfg.TTL = ttl
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()

	m, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	m := testManager(t, 7*time.Minute)
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)

	tok, exp, err := m.Issue(IssueInput{
		SessionID: "sess-1",
		TenantID:  "ten-1",
		JobID:     "job-1",
		Subject:   "cand-1",
	}, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := exp.Sub(now); got != 7*time.Minute {
		t.Fatalf("ttl=%v, want 7m", got)
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.SessionID != "sess-1" || claims.TenantID != "ten-1" || claims.JobID != "job-1" || claims.Subject != "cand-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerify_ExpiredIsDistinctFromInvalid(t *testing.T) {
	m := testManager(t, 5*time.Minute)
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)

	tok, _, err := m.Issue(IssueInput{SessionID: "s", Subject: "c"}, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m.Verify(tok, now.Add(6*time.Minute)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := m.Verify("v4.public.garbage", now); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestVerify_UsesCallerClock(t *testing.T) {
	m := testManager(t, 7*time.Minute)

	// Issued well in the past relative to the wall clock. Verification must
	// judge expiry against the caller's clock, not time.Now.
	issued := time.Date(2020, 1, 2, 9, 0, 0, 0, time.UTC)

	tok, _, err := m.Issue(IssueInput{SessionID: "s", Subject: "c"}, issued)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m.Verify(tok, issued.Add(time.Minute)); err != nil {
		t.Fatalf("verify at issue-time clock: %v", err)
	}
	if _, err := m.Verify(tok, issued.Add(8*time.Minute)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired past ttl, got %v", err)
	}
}

func TestVerify_RejectsForeignKey(t *testing.T) {
	a := testManager(t, 7*time.Minute)
	b := testManager(t, 7*time.Minute)
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)

	tok, _, err := a.Issue(IssueInput{SessionID: "s", Subject: "c"}, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(tok, now); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for foreign signature, got %v", err)
	}
}

func TestNewManager_ClampsTTL(t *testing.T) {
	m := testManager(t, time.Hour)
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)

	_, exp, err := m.Issue(IssueInput{SessionID: "s", Subject: "c"}, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := exp.Sub(now); got != 10*time.Minute {
		t.Fatalf("ttl=%v, want clamp to 10m", got)
	}
}

func TestIssue_RequiresSessionAndSubject(t *testing.T) {
	m := testManager(t, 7*time.Minute)
	now := time.Now().UTC()

	if _, _, err := m.Issue(IssueInput{Subject: "c"}, now); err == nil {
		t.Fatal("expected rejection without session id")
	}
	if _, _, err := m.Issue(IssueInput{SessionID: "s"}, now); err == nil {
		t.Fatal("expected rejection without subject")
	}
}
