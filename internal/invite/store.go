package invite

import (
	"context"
	"time"
)

// CreateRecord is the persistence shape of a new invite. The plain token is
// absent by construction; only the hash crosses this boundary.
type CreateRecord struct {
	Invite    Invite
	TokenHash string
}

// ConsumeRecord describes an atomic single-use consumption.
type ConsumeRecord struct {
	TokenHash string
	UsedBy    string
	Now       time.Time
}

// Store is the invite persistence boundary.
//
// Consume must be atomic: of N concurrent calls for the same invite, exactly
// one succeeds. Failures distinguish ErrNotFound, ErrUsed and ErrExpired;
// expiry wins when an invite is both used and expired.
type Store interface {
	Create(ctx context.Context, in CreateRecord) error
	GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error)
	Consume(ctx context.Context, in ConsumeRecord) (Invite, error)
}
