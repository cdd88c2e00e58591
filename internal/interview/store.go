package interview

import (
	"context"
	"time"
)

// Session record statuses persisted by the SessionStore.
// Live in-memory state is richer (see State); the record only tracks the
// durable lifecycle needed to refuse dead sessions and audit outcomes.
const (
	RecordCreated    = "created"
	RecordInProgress = "in_progress"
	RecordSubmitted  = "submitted"
	RecordAbandoned  = "abandoned"
	RecordError      = "error"
)

// SessionRecord is the durable identity of one interview run. Session
// identity is deliberately separate from connection identity: connections
// are ephemeral and re-attach to the record's live instance by id.
type SessionRecord struct {
	ID          string
	TenantID    string
	JobID       string
	CandidateID string
	InviteID    string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TerminalRecordStatus reports whether a record status admits no further
// transitions.
func TerminalRecordStatus(status string) bool {
	switch status {
	case RecordSubmitted, RecordAbandoned, RecordError:
		return true
	default:
		return false
	}
}

// SessionStore is the persistence boundary for session records.
type SessionStore interface {
	Create(ctx context.Context, rec SessionRecord) error
	Get(ctx context.Context, id string) (SessionRecord, error)
	// GetByInviteID supports the idempotent locate-or-create step of the
	// invite exchange.
	GetByInviteID(ctx context.Context, inviteID string) (SessionRecord, error)
	SetStatus(ctx context.Context, id, status string, now time.Time) error
}
