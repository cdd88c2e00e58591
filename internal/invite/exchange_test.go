package invite

import (
	"context"
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"parley/internal/credential"
	"parley/internal/interview"
)

func newTestExchanger(t *testing.T) (*Exchanger, *Service, *interview.MemorySessionStore, credential.Manager) {
	t.Helper()

	invites, _ := newTestService(t)
	sessions := interview.NewMemorySessionStore()

	cfg := credential.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	creds, err := credential.NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("credential manager: %v", err)
	}

	ex, err := NewExchanger(nil, invites, sessions, creds)
	if err != nil {
		t.Fatalf("NewExchanger: %v", err)
	}
	return ex, invites, sessions, creds
}

func TestExchangeMintsVerifiableCredential(t *testing.T) {
	ex, invites, sessions, creds := newTestExchanger(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	_, plain, err := invites.CreateInvite(ctx, createInput(now))
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	grant, err := ex.Exchange(ctx, plain, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if grant.SessionID == "" || grant.Credential == "" {
		t.Fatalf("incomplete grant: %+v", grant)
	}

	claims, err := creds.Verify(grant.Credential, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SessionID != grant.SessionID {
		t.Fatalf("sid = %q, want %q", claims.SessionID, grant.SessionID)
	}
	if claims.TenantID != "tn_1" || claims.JobID != "job_1" || claims.Subject != "cand_1" {
		t.Fatalf("claims = %+v", claims)
	}

	rec, err := sessions.Get(ctx, grant.SessionID)
	if err != nil {
		t.Fatalf("session record: %v", err)
	}
	if rec.Status != interview.RecordCreated || rec.CandidateID != "cand_1" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestExchangeSecondUseFailsWithoutSecondSession(t *testing.T) {
	ex, invites, sessions, _ := newTestExchanger(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	inv, plain, err := invites.CreateInvite(ctx, createInput(now))
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	first, err := ex.Exchange(ctx, plain, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("first Exchange: %v", err)
	}
	if _, err := ex.Exchange(ctx, plain, now.Add(2*time.Hour)); !errors.Is(err, ErrUsed) {
		t.Fatalf("second Exchange = %v, want ErrUsed", err)
	}

	// The one session from the first exchange is all there is.
	rec, err := sessions.GetByInviteID(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetByInviteID: %v", err)
	}
	if rec.ID != first.SessionID {
		t.Fatalf("session for invite = %q, want %q", rec.ID, first.SessionID)
	}
}

func TestExchangeExpiredInvite(t *testing.T) {
	ex, invites, _, _ := newTestExchanger(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	_, plain, err := invites.CreateInvite(ctx, createInput(now))
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	if _, err := ex.Exchange(ctx, plain, now.Add(72*time.Hour)); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestGrantReconnectReissuesWithoutTouchingInvite(t *testing.T) {
	ex, invites, _, creds := newTestExchanger(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	_, plain, err := invites.CreateInvite(ctx, createInput(now))
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	grant, err := ex.Exchange(ctx, plain, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	// A reconnect grant well after the first credential expired.
	later := now.Add(2 * time.Hour)
	re, err := ex.GrantReconnect(ctx, grant.SessionID, "cand_1", later)
	if err != nil {
		t.Fatalf("GrantReconnect: %v", err)
	}
	if re.SessionID != grant.SessionID {
		t.Fatalf("session = %q, want %q", re.SessionID, grant.SessionID)
	}
	claims, err := creds.Verify(re.Credential, later)
	if err != nil {
		t.Fatalf("Verify reconnect credential: %v", err)
	}
	if claims.SessionID != grant.SessionID || claims.Subject != "cand_1" {
		t.Fatalf("claims = %+v", claims)
	}

	// GrantReconnect is idempotent.
	if _, err := ex.GrantReconnect(ctx, grant.SessionID, "cand_1", later.Add(time.Minute)); err != nil {
		t.Fatalf("repeat GrantReconnect: %v", err)
	}

	// And it never re-spends the invite.
	if _, err := ex.Exchange(ctx, plain, later); !errors.Is(err, ErrUsed) {
		t.Fatalf("invite after reconnects = %v, want ErrUsed", err)
	}
}

func TestGrantReconnectRejections(t *testing.T) {
	ex, invites, sessions, _ := newTestExchanger(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	_, plain, err := invites.CreateInvite(ctx, createInput(now))
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	grant, err := ex.Exchange(ctx, plain, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	if _, err := ex.GrantReconnect(ctx, "missing", "cand_1", now); !errors.Is(err, interview.ErrSessionNotFound) {
		t.Fatalf("unknown session = %v, want ErrSessionNotFound", err)
	}
	if _, err := ex.GrantReconnect(ctx, grant.SessionID, "cand_other", now); !errors.Is(err, interview.ErrSessionNotFound) {
		t.Fatalf("foreign subject = %v, want ErrSessionNotFound", err)
	}

	if err := sessions.SetStatus(ctx, grant.SessionID, interview.RecordSubmitted, now); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := ex.GrantReconnect(ctx, grant.SessionID, "cand_1", now); !errors.Is(err, interview.ErrSessionTerminal) {
		t.Fatalf("terminal session = %v, want ErrSessionTerminal", err)
	}
}
