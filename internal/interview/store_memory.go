package interview

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore keeps session records in process memory. Used in dev
// mode and tests.
type MemorySessionStore struct {
	mu   sync.RWMutex
	recs map[string]SessionRecord
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{recs: make(map[string]SessionRecord)}
}

func (s *MemorySessionStore) Create(ctx context.Context, rec SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ID]; ok {
		return ErrInvalidInput
	}
	s.recs[rec.ID] = rec
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return SessionRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return SessionRecord{}, ErrSessionNotFound
	}
	return rec, nil
}

func (s *MemorySessionStore) GetByInviteID(ctx context.Context, inviteID string) (SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return SessionRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.recs {
		if rec.InviteID == inviteID {
			return rec, nil
		}
	}
	return SessionRecord{}, ErrSessionNotFound
}

func (s *MemorySessionStore) SetStatus(ctx context.Context, id, status string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return ErrSessionNotFound
	}
	rec.Status = status
	rec.UpdatedAt = now.UTC()
	s.recs[id] = rec
	return nil
}

// MemoryResultStore stores question results in memory, idempotent per
// (session_id, question_id): a redelivered result overwrites its slot.
type MemoryResultStore struct {
	mu        sync.RWMutex
	results   map[string][]Result
	finalized map[string]string
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{
		results:   make(map[string][]Result),
		finalized: make(map[string]string),
	}
}

func (s *MemoryResultStore) PersistResult(ctx context.Context, in Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if in.SessionID == "" || in.QuestionID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.results[in.SessionID]
	for i, r := range list {
		if r.QuestionID == in.QuestionID {
			list[i] = in
			return nil
		}
	}
	s.results[in.SessionID] = append(list, in)
	return nil
}

func (s *MemoryResultStore) FinalizeSession(ctx context.Context, sessionID, status string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized[sessionID] = status
	return nil
}

// Results returns the stored results for a session, in persistence order.
func (s *MemoryResultStore) Results(sessionID string) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Result, len(s.results[sessionID]))
	copy(out, s.results[sessionID])
	return out
}

// FinalStatus returns the finalized status for a session, if any.
func (s *MemoryResultStore) FinalStatus(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.finalized[sessionID]
	return status, ok
}
