package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"parley/internal/security/token"

	"github.com/oklog/ulid/v2"
)

const defaultTokenBytes = 32

// Invite is a single-use, time-boxed credential seed tying a candidate to
// one job interview. The plain token is returned exactly once at creation;
// only its hash is ever stored.
type Invite struct {
	ID          string
	TenantID    string
	JobID       string
	CandidateID string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
	UsedBy      *string
}

// Used reports whether the invite's single use is spent.
func (i Invite) Used() bool { return i.UsedAt != nil }

// CreateInput describes invite creation.
type CreateInput struct {
	TenantID    string
	JobID       string
	CandidateID string
	TTL         time.Duration
	Now         time.Time
}

// Service manages invite creation and lookup.
type Service struct {
	store      Store
	tokenBytes int
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated invite tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{store: store, tokenBytes: defaultTokenBytes}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateInvite mints a new invite and returns it plus the plain token.
// The plain token is never stored and cannot be recovered later.
func (s *Service) CreateInvite(ctx context.Context, in CreateInput) (Invite, string, error) {
	if s == nil || s.store == nil {
		return Invite{}, "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}
	if strings.TrimSpace(in.TenantID) == "" ||
		strings.TrimSpace(in.JobID) == "" ||
		strings.TrimSpace(in.CandidateID) == "" {
		return Invite{}, "", ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	tokenPlain, err := newOpaqueToken(s.tokenBytes)
	if err != nil {
		return Invite{}, "", err
	}
	tokenHash := token.HashInviteTokenHex(tokenPlain)

	inviteID, err := newULID(now)
	if err != nil {
		return Invite{}, "", err
	}

	inv := Invite{
		ID:          inviteID,
		TenantID:    strings.TrimSpace(in.TenantID),
		JobID:       strings.TrimSpace(in.JobID),
		CandidateID: strings.TrimSpace(in.CandidateID),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := s.store.Create(ctx, CreateRecord{Invite: inv, TokenHash: tokenHash}); err != nil {
		return Invite{}, "", err
	}
	return inv, tokenPlain, nil
}

// Consume spends the invite matching the plain token, atomically: exactly
// one caller ever succeeds for a given invite.
func (s *Service) Consume(ctx context.Context, tokenStr, usedBy string, now time.Time) (Invite, error) {
	if s == nil || s.store == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" || strings.TrimSpace(usedBy) == "" {
		return Invite{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tokenHash := token.HashInviteTokenHex(tokenStr)
	return s.store.Consume(ctx, ConsumeRecord{
		TokenHash: tokenHash,
		UsedBy:    strings.TrimSpace(usedBy),
		Now:       now,
	})
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultTokenBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newULID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
