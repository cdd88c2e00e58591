package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parley/internal/credential"
	"parley/internal/interview"
)

// Grant is a successful exchange outcome: the session to connect to and a
// short-lived signed credential proving the right to do so.
type Grant struct {
	SessionID  string
	Credential string
	ExpiresAt  time.Time
}

// Exchanger turns invite tokens into session credentials. The exchange is
// the only path that spends an invite; reconnect grants re-credential an
// existing session without touching the invite.
type Exchanger struct {
	log      *slog.Logger
	invites  *Service
	sessions interview.SessionStore
	creds    credential.Manager
}

// NewExchanger constructs an Exchanger.
func NewExchanger(log *slog.Logger, invites *Service, sessions interview.SessionStore, creds credential.Manager) (*Exchanger, error) {
	if log == nil {
		log = slog.Default()
	}
	if invites == nil || sessions == nil || creds == nil {
		return nil, ErrInvalidInput
	}
	return &Exchanger{log: log, invites: invites, sessions: sessions, creds: creds}, nil
}

// Exchange consumes the invite behind tokenStr and returns a credential for
// its interview session. The session record is located or created
// idempotently by invite id, so a consume that persisted but failed to
// respond does not orphan the invite on retry paths.
func (e *Exchanger) Exchange(ctx context.Context, tokenStr string, now time.Time) (Grant, error) {
	if e == nil {
		return Grant{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return Grant{}, ErrInvalidInput
	}

	inv, err := e.invites.Consume(ctx, tokenStr, "exchange", now)
	if err != nil {
		return Grant{}, err
	}

	rec, err := e.sessions.GetByInviteID(ctx, inv.ID)
	if errors.Is(err, interview.ErrSessionNotFound) {
		rec = interview.SessionRecord{
			ID:          "",
			TenantID:    inv.TenantID,
			JobID:       inv.JobID,
			CandidateID: inv.CandidateID,
			InviteID:    inv.ID,
			Status:      interview.RecordCreated,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		rec.ID, err = newULID(now)
		if err != nil {
			return Grant{}, err
		}
		if err := e.sessions.Create(ctx, rec); err != nil {
			return Grant{}, fmt.Errorf("create session: %w", err)
		}
	} else if err != nil {
		return Grant{}, err
	}

	grant, err := e.mint(rec, now)
	if err != nil {
		return Grant{}, err
	}

	e.log.Info("invite.exchanged",
		"invite_id", inv.ID,
		"session_id", rec.ID,
		"tenant_id", rec.TenantID,
		"job_id", rec.JobID,
	)
	return grant, nil
}

// GrantReconnect mints a fresh credential for an existing, non-terminal
// session owned by subject. It is idempotent and never touches the invite:
// a candidate whose credential expired mid-interview can always get back in.
func (e *Exchanger) GrantReconnect(ctx context.Context, sessionID, subject string, now time.Time) (Grant, error) {
	if e == nil {
		return Grant{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	sessionID = strings.TrimSpace(sessionID)
	subject = strings.TrimSpace(subject)
	if sessionID == "" || subject == "" {
		return Grant{}, ErrInvalidInput
	}

	rec, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return Grant{}, err
	}
	if rec.CandidateID != subject {
		// Deliberately indistinguishable from a missing session.
		return Grant{}, interview.ErrSessionNotFound
	}
	if interview.TerminalRecordStatus(rec.Status) {
		return Grant{}, interview.ErrSessionTerminal
	}

	grant, err := e.mint(rec, now)
	if err != nil {
		return Grant{}, err
	}

	e.log.Info("invite.reconnect_granted", "session_id", rec.ID)
	return grant, nil
}

func (e *Exchanger) mint(rec interview.SessionRecord, now time.Time) (Grant, error) {
	tok, exp, err := e.creds.Issue(credential.IssueInput{
		SessionID: rec.ID,
		TenantID:  rec.TenantID,
		JobID:     rec.JobID,
		Subject:   rec.CandidateID,
	}, now)
	if err != nil {
		return Grant{}, fmt.Errorf("issue credential: %w", err)
	}
	return Grant{SessionID: rec.ID, Credential: tok, ExpiresAt: exp}, nil
}
