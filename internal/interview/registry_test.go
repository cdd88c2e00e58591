package interview

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *MemorySessionStore, *MemoryResultStore) {
	t.Helper()

	sessions := NewMemorySessionStore()
	results := NewMemoryResultStore()
	deps := Deps{
		Transcriber: &scriptTranscriber{},
		Sessions:    sessions,
		Results:     results,
	}
	source := StaticQuestionSource{Questions: twoQuestions()}

	reg, err := NewRegistry(nil, deps, source, opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(reg.Stop)
	return reg, sessions, results
}

func seedRecord(t *testing.T, sessions *MemorySessionStore, id, candidate, status string) {
	t.Helper()
	err := sessions.Create(context.Background(), SessionRecord{
		ID:          id,
		TenantID:    "tn_1",
		JobID:       "job_1",
		CandidateID: candidate,
		InviteID:    "inv_" + id,
		Status:      status,
		CreatedAt:   time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
}

func TestRegistryAttachLoadsRecord(t *testing.T) {
	reg, sessions, _ := newTestRegistry(t)
	seedRecord(t, sessions, "sess_1", "cand_1", RecordCreated)

	ctx := context.Background()
	now := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	conn := &fakeConn{}

	sess, err := reg.Attach(ctx, "sess_1", "cand_1", conn, now)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if sess.State() != StateConnected {
		t.Fatalf("state = %q, want connected", sess.State())
	}
	if reg.liveCount() != 1 {
		t.Fatalf("live = %d, want 1", reg.liveCount())
	}
}

func TestRegistryAttachRejectsUnknownAndTerminal(t *testing.T) {
	reg, sessions, _ := newTestRegistry(t)
	seedRecord(t, sessions, "sess_done", "cand_1", RecordSubmitted)

	ctx := context.Background()
	now := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	if _, err := reg.Attach(ctx, "missing", "cand_1", &fakeConn{}, now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown id = %v, want ErrSessionNotFound", err)
	}
	if _, err := reg.Attach(ctx, "sess_done", "cand_1", &fakeConn{}, now); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("terminal record = %v, want ErrSessionTerminal", err)
	}
}

func TestRegistryAttachRejectsForeignSubject(t *testing.T) {
	reg, sessions, _ := newTestRegistry(t)
	seedRecord(t, sessions, "sess_1", "cand_1", RecordCreated)

	ctx := context.Background()
	now := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	if _, err := reg.Attach(ctx, "sess_1", "cand_other", &fakeConn{}, now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign subject = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistrySecondAttachEvictsFirst(t *testing.T) {
	reg, sessions, _ := newTestRegistry(t)
	seedRecord(t, sessions, "sess_1", "cand_1", RecordCreated)

	ctx := context.Background()
	now := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	first := &fakeConn{}
	second := &fakeConn{}

	if _, err := reg.Attach(ctx, "sess_1", "cand_1", first, now); err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	if _, err := reg.Attach(ctx, "sess_1", "cand_1", second, now); err != nil {
		t.Fatalf("second Attach: %v", err)
	}

	if first.evicted == "" {
		t.Fatal("first connection was not evicted")
	}
	if reg.liveCount() != 1 {
		t.Fatalf("live = %d, want 1", reg.liveCount())
	}
}

func TestRegistryDetachGraceAbandons(t *testing.T) {
	reg, sessions, results := newTestRegistry(t,
		WithDisconnectWait(30*time.Millisecond),
		WithTickInterval(time.Hour),
	)
	seedRecord(t, sessions, "sess_1", "cand_1", RecordCreated)

	ctx := context.Background()
	now := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	conn := &fakeConn{}

	sess, err := reg.Attach(ctx, "sess_1", "cand_1", conn, now)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	reg.Detach("sess_1", conn)

	deadline := time.Now().Add(2 * time.Second)
	for sess.State() != StateAbandoned {
		if time.Now().After(deadline) {
			t.Fatalf("session not abandoned after grace; state = %q", sess.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if status, ok := results.FinalStatus("sess_1"); !ok || status != RecordAbandoned {
		t.Fatalf("finalized = %q (%v), want abandoned", status, ok)
	}

	for reg.liveCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("live = %d, want 0", reg.liveCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := reg.Attach(ctx, "sess_1", "cand_1", &fakeConn{}, now); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("re-attach after abandon = %v, want ErrSessionTerminal", err)
	}
}

func TestRegistryReconnectWithinGraceResumes(t *testing.T) {
	reg, sessions, _ := newTestRegistry(t,
		WithDisconnectWait(time.Hour),
		WithTickInterval(time.Hour),
	)
	seedRecord(t, sessions, "sess_1", "cand_1", RecordCreated)

	ctx := context.Background()
	now := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	first := &fakeConn{}

	sess, err := reg.Attach(ctx, "sess_1", "cand_1", first, now)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := sess.Start(ctx, now, 16000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	reg.Detach("sess_1", first)

	second := &fakeConn{}
	resumed, err := reg.Attach(ctx, "sess_1", "cand_1", second, now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("reconnect Attach: %v", err)
	}
	if resumed != sess {
		t.Fatal("reconnect produced a different live instance")
	}
	if resumed.State() != StateListening || resumed.QIndex() != 0 {
		t.Fatalf("resumed state = %q q=%d, want listening/0", resumed.State(), resumed.QIndex())
	}
	if reg.liveCount() != 1 {
		t.Fatalf("live = %d, want 1", reg.liveCount())
	}
}

func TestRegistryTickLoopDrivesTimer(t *testing.T) {
	reg, sessions, _ := newTestRegistry(t,
		WithTickInterval(10*time.Millisecond),
		WithDisconnectWait(time.Hour),
	)
	seedRecord(t, sessions, "sess_1", "cand_1", RecordCreated)

	ctx := context.Background()
	conn := &fakeConn{}
	sess, err := reg.Attach(ctx, "sess_1", "cand_1", conn, time.Now().UTC())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := sess.Start(ctx, time.Now().UTC(), 16000); err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := sess.RemainingSec()
	deadline := time.Now().Add(2 * time.Second)
	for sess.RemainingSec() >= start {
		if time.Now().After(deadline) {
			t.Fatalf("remaining never decreased from %d", start)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
