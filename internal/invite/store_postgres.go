package invite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists invites in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "parley").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "parley"}
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

// Create inserts a new invite record.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(in.Invite.ID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return ErrInvalidInput
	}

	invites := pgIdent(s.schema, "invites")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+invites+` (
		     id, token_hash, tenant_id, job_id, candidate_id, created_at, expires_at, used_at, used_by
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		in.Invite.ID,
		in.TokenHash,
		in.Invite.TenantID,
		in.Invite.JobID,
		in.Invite.CandidateID,
		in.Invite.CreatedAt,
		in.Invite.ExpiresAt,
		in.Invite.UsedAt,
		in.Invite.UsedBy,
	)
	return err
}

// GetByTokenHash fetches an invite by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if s == nil || s.pool == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invite{}, ErrInvalidInput
	}

	invites := pgIdent(s.schema, "invites")
	var out Invite
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, job_id, candidate_id, created_at, expires_at, used_at, used_by
		   FROM `+invites+` WHERE token_hash = $1`,
		tokenHash,
	).Scan(
		&out.ID,
		&out.TenantID,
		&out.JobID,
		&out.CandidateID,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.UsedAt,
		&out.UsedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, ErrNotFound
	}
	if err != nil {
		return Invite{}, err
	}
	return out, nil
}

// Consume atomically spends the invite: the UPDATE only matches an unused,
// unexpired row, so concurrent callers race on the row and exactly one wins.
func (s *PostgresStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if s == nil || s.pool == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.UsedBy) == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	invites := pgIdent(s.schema, "invites")
	var out Invite
	err := s.pool.QueryRow(ctx,
		`UPDATE `+invites+`
		    SET used_at = $1,
		        used_by = $2
		  WHERE token_hash = $3
		    AND used_at IS NULL
		    AND expires_at > $1
		RETURNING id, tenant_id, job_id, candidate_id, created_at, expires_at, used_at, used_by`,
		in.Now,
		in.UsedBy,
		in.TokenHash,
	).Scan(
		&out.ID,
		&out.TenantID,
		&out.JobID,
		&out.CandidateID,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.UsedAt,
		&out.UsedBy,
	)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, err
	}

	// Distinguish why the UPDATE matched nothing.
	inv, selErr := s.GetByTokenHash(ctx, in.TokenHash)
	if selErr != nil {
		return Invite{}, selErr
	}
	if !inv.ExpiresAt.After(in.Now) {
		return Invite{}, ErrExpired
	}
	return Invite{}, ErrUsed
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
