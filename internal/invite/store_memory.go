package invite

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps invites in process memory. Used in dev mode and tests.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]Invite
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]Invite)}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(in.Invite.ID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[in.TokenHash]; ok {
		return ErrInvalidInput
	}
	s.byHash[in.TokenHash] = in.Invite
	return nil
}

func (s *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byHash[tokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return inv, nil
}

func (s *MemoryStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.UsedBy) == "" {
		return Invite{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byHash[in.TokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	if !inv.ExpiresAt.After(in.Now) {
		return Invite{}, ErrExpired
	}
	if inv.UsedAt != nil {
		return Invite{}, ErrUsed
	}

	usedAt := in.Now
	usedBy := in.UsedBy
	inv.UsedAt = &usedAt
	inv.UsedBy = &usedBy
	s.byHash[in.TokenHash] = inv
	return inv, nil
}
