package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo persists usage counters, one row per (account, usage_type,
// window). Rows are created lazily on first use in a window.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) Count(ctx context.Context, accountID uuid.UUID, usageType string, windowStart time.Time) (int, error) {
	const q = `
SELECT count FROM usage_counters
WHERE account_id = $1 AND usage_type = $2 AND window_start = $3`
	var n int
	if err := r.pool.QueryRow(ctx, q, accountID, usageType, windowStart).Scan(&n); err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (r *Repo) Add(ctx context.Context, accountID uuid.UUID, usageType string, windowStart time.Time, n int) error {
	const q = `
INSERT INTO usage_counters (account_id, usage_type, window_start, count)
VALUES ($1, $2, $3, $4)
ON CONFLICT (account_id, usage_type, window_start)
DO UPDATE SET count = usage_counters.count + EXCLUDED.count,
              updated_at = NOW()`
	_, err := r.pool.Exec(ctx, q, accountID, usageType, windowStart, n)
	return err
}
