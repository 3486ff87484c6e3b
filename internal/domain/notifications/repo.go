package notifications

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) Insert(ctx context.Context, n Notification) error {
	const q = `
INSERT INTO notifications (account_id, type, title, message, read)
VALUES ($1, $2, $3, $4, FALSE)`
	_, err := r.pool.Exec(ctx, q, n.AccountID, n.Type, n.Title, n.Message)
	return err
}

func (r *Repo) ListUnread(ctx context.Context, accountID uuid.UUID) ([]Notification, error) {
	const q = `
SELECT id, account_id, type, title, message, read, created_at
FROM notifications
WHERE account_id = $1 AND read = FALSE
ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Type, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
