package interview

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSessionStore persists session records in PostgreSQL.
type PostgresSessionStore struct {
	pool   *pgxpool.Pool
	schema string
}

// SessionStoreOption configures PostgresSessionStore.
type SessionStoreOption func(*PostgresSessionStore) error

// WithSessionSchema sets the DB schema used by the store (default: "parley").
func WithSessionSchema(schema string) SessionStoreOption {
	return func(s *PostgresSessionStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresSessionStore constructs a PostgresSessionStore.
func NewPostgresSessionStore(pool *pgxpool.Pool, opts ...SessionStoreOption) (*PostgresSessionStore, error) {
	st := &PostgresSessionStore{pool: pool, schema: "parley"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// Create inserts a new session record.
func (s *PostgresSessionStore) Create(ctx context.Context, rec SessionRecord) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.CandidateID) == "" {
		return ErrInvalidInput
	}

	sessions := pgIdent(s.schema, "interview_sessions")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+sessions+` (
		     id, tenant_id, job_id, candidate_id, invite_id, status, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID,
		rec.TenantID,
		rec.JobID,
		rec.CandidateID,
		rec.InviteID,
		rec.Status,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

// Get fetches a session record by id.
func (s *PostgresSessionStore) Get(ctx context.Context, id string) (SessionRecord, error) {
	if s == nil || s.pool == nil {
		return SessionRecord{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return SessionRecord{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return SessionRecord{}, ErrInvalidInput
	}

	sessions := pgIdent(s.schema, "interview_sessions")
	var out SessionRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, job_id, candidate_id, invite_id, status, created_at, updated_at
		   FROM `+sessions+` WHERE id = $1`,
		id,
	).Scan(
		&out.ID,
		&out.TenantID,
		&out.JobID,
		&out.CandidateID,
		&out.InviteID,
		&out.Status,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionRecord{}, err
	}
	return out, nil
}

// GetByInviteID fetches the session created from the given invite, if any.
func (s *PostgresSessionStore) GetByInviteID(ctx context.Context, inviteID string) (SessionRecord, error) {
	if s == nil || s.pool == nil {
		return SessionRecord{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return SessionRecord{}, err
	}
	inviteID = strings.TrimSpace(inviteID)
	if inviteID == "" {
		return SessionRecord{}, ErrInvalidInput
	}

	sessions := pgIdent(s.schema, "interview_sessions")
	var out SessionRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, job_id, candidate_id, invite_id, status, created_at, updated_at
		   FROM `+sessions+` WHERE invite_id = $1`,
		inviteID,
	).Scan(
		&out.ID,
		&out.TenantID,
		&out.JobID,
		&out.CandidateID,
		&out.InviteID,
		&out.Status,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionRecord{}, err
	}
	return out, nil
}

// SetStatus updates the durable lifecycle status of a session.
func (s *PostgresSessionStore) SetStatus(ctx context.Context, id, status string, now time.Time) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" || strings.TrimSpace(status) == "" {
		return ErrInvalidInput
	}

	sessions := pgIdent(s.schema, "interview_sessions")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+sessions+` SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, now.UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// PostgresResultStore persists question results in PostgreSQL. Writes are
// idempotent per (session_id, question_id) via upsert.
type PostgresResultStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresResultStore constructs a PostgresResultStore.
func NewPostgresResultStore(pool *pgxpool.Pool, schema string) (*PostgresResultStore, error) {
	if pool == nil {
		return nil, ErrInvalidInput
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "parley"
	}
	return &PostgresResultStore{pool: pool, schema: schema}, nil
}

// PersistResult upserts one question result.
func (s *PostgresResultStore) PersistResult(ctx context.Context, in Result) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(in.SessionID) == "" || strings.TrimSpace(in.QuestionID) == "" {
		return ErrInvalidInput
	}

	results := pgIdent(s.schema, "interview_results")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+results+` (
		     session_id, question_id, transcript, duration_sec, score, recorded_at
		   ) VALUES ($1, $2, $3, $4, $5, $6)
		   ON CONFLICT (session_id, question_id) DO UPDATE SET
		     transcript = EXCLUDED.transcript,
		     duration_sec = EXCLUDED.duration_sec,
		     score = EXCLUDED.score,
		     recorded_at = EXCLUDED.recorded_at`,
		in.SessionID,
		in.QuestionID,
		in.Transcript,
		in.DurationSec,
		in.Score,
		in.RecordedAt.UTC(),
	)
	return err
}

// FinalizeSession records the terminal outcome alongside the results.
func (s *PostgresResultStore) FinalizeSession(ctx context.Context, sessionID, status string, now time.Time) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(status) == "" {
		return ErrInvalidInput
	}

	sessions := pgIdent(s.schema, "interview_sessions")
	_, err := s.pool.Exec(ctx,
		`UPDATE `+sessions+` SET status = $2, updated_at = $3
		   WHERE id = $1 AND status NOT IN ('submitted', 'abandoned', 'error')`,
		sessionID, status, now.UTC(),
	)
	return err
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
