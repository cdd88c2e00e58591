package invite

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func createInput(now time.Time) CreateInput {
	return CreateInput{
		TenantID:    "tn_1",
		JobID:       "job_1",
		CandidateID: "cand_1",
		TTL:         48 * time.Hour,
		Now:         now,
	}
}

func TestCreateInviteReturnsPlainTokenOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	inv, plain, err := svc.CreateInvite(ctx, createInput(now))
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if plain == "" {
		t.Fatal("plain token is empty")
	}
	if inv.ID == "" {
		t.Fatal("invite id is empty")
	}
	if !inv.ExpiresAt.Equal(now.Add(48 * time.Hour)) {
		t.Fatalf("expires_at = %v, want now+48h", inv.ExpiresAt)
	}

	// Only the hash may be stored.
	store.mu.Lock()
	for hash := range store.byHash {
		if hash == plain || strings.Contains(hash, plain) {
			t.Fatal("plain token leaked into storage")
		}
	}
	store.mu.Unlock()
}

func TestCreateInviteRequiresIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		name string
		in   CreateInput
	}{
		{"missing tenant", CreateInput{JobID: "j", CandidateID: "c", Now: now}},
		{"missing job", CreateInput{TenantID: "t", CandidateID: "c", Now: now}},
		{"missing candidate", CreateInput{TenantID: "t", JobID: "j", Now: now}},
	} {
		if _, _, err := svc.CreateInvite(ctx, tc.in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: err = %v, want ErrInvalidInput", tc.name, err)
		}
	}
}

func TestConsumeSpendsExactlyOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	inv, plain, err := svc.CreateInvite(ctx, createInput(now))
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	got, err := svc.Consume(ctx, plain, "exchange", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.ID != inv.ID {
		t.Fatalf("consumed id = %q, want %q", got.ID, inv.ID)
	}
	if !got.Used() {
		t.Fatal("consumed invite not marked used")
	}

	if _, err := svc.Consume(ctx, plain, "exchange", now.Add(2*time.Hour)); !errors.Is(err, ErrUsed) {
		t.Fatalf("second consume = %v, want ErrUsed", err)
	}
}

func TestConsumeUnknownToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	if _, err := svc.Consume(ctx, "no-such-token", "exchange", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConsumeExpired(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	_, plain, err := svc.CreateInvite(ctx, createInput(now))
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	late := now.Add(49 * time.Hour)
	if _, err := svc.Consume(ctx, plain, "exchange", late); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestConsumeExpiredWinsOverUsed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	_, plain, err := svc.CreateInvite(ctx, createInput(now))
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := svc.Consume(ctx, plain, "exchange", now.Add(time.Hour)); err != nil {
		t.Fatalf("first consume: %v", err)
	}

	// Used AND expired: expiry is the reported reason.
	late := now.Add(49 * time.Hour)
	if _, err := svc.Consume(ctx, plain, "exchange", late); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestConsumeIsAtomicUnderConcurrency(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	_, plain, err := svc.CreateInvite(ctx, createInput(now))
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	const workers = 16
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := svc.Consume(ctx, plain, "exchange", now.Add(time.Hour))
			results <- err
		}()
	}

	wins := 0
	for i := 0; i < workers; i++ {
		if err := <-results; err == nil {
			wins++
		} else if !errors.Is(err, ErrUsed) {
			t.Fatalf("concurrent consume = %v, want nil or ErrUsed", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}
