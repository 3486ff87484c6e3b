package partner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func scanToken(row pgx.Row) (*InviteToken, error) {
	var t InviteToken
	var usedAt *time.Time
	var usedBy *uuid.UUID
	if err := row.Scan(&t.ID, &t.Token, &t.InviterID, &t.InviterName, &t.CreatedAt, &t.ExpiresAt, &usedAt, &usedBy); err != nil {
		return nil, err
	}
	t.UsedAt = usedAt
	t.UsedBy = usedBy
	return &t, nil
}

const tokenColumns = `id, token, inviter_id, inviter_name, created_at, expires_at, used_at, used_by`

func (r *Repo) Create(ctx context.Context, token string, inviterID uuid.UUID, inviterName string, expiresAt time.Time) (*InviteToken, error) {
	const q = `
INSERT INTO invite_tokens (token, inviter_id, inviter_name, expires_at)
VALUES ($1, $2, $3, $4)
RETURNING ` + tokenColumns
	return scanToken(r.pool.QueryRow(ctx, q, token, inviterID, inviterName, expiresAt))
}

func (r *Repo) GetByToken(ctx context.Context, token string) (*InviteToken, error) {
	const q = `SELECT ` + tokenColumns + ` FROM invite_tokens WHERE token = $1`
	t, err := scanToken(r.pool.QueryRow(ctx, q, token))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// Outstanding returns the newest unused, unexpired token for an inviter,
// so repeated invite requests reuse one link instead of minting more.
func (r *Repo) Outstanding(ctx context.Context, inviterID uuid.UUID) (*InviteToken, error) {
	const q = `
SELECT ` + tokenColumns + ` FROM invite_tokens
WHERE inviter_id = $1 AND used_at IS NULL AND expires_at > NOW()
ORDER BY created_at DESC
LIMIT 1`
	t, err := scanToken(r.pool.QueryRow(ctx, q, inviterID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *Repo) MarkUsed(ctx context.Context, id int64, usedBy uuid.UUID) error {
	const q = `UPDATE invite_tokens SET used_at = NOW(), used_by = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, usedBy)
	return err
}

// ExpirePending invalidates every unused token from either party, used
// when a link is dissolved.
func (r *Repo) ExpirePending(ctx context.Context, inviterIDs ...uuid.UUID) error {
	const q = `
UPDATE invite_tokens SET expires_at = NOW()
WHERE inviter_id = ANY($1) AND used_at IS NULL`
	_, err := r.pool.Exec(ctx, q, inviterIDs)
	return err
}
