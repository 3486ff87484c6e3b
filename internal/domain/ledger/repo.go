package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// DB is the slice of pgxpool.Pool the repo touches.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Repo struct {
	db  DB
	log *slog.Logger

	// failOpen governs what happens when the claim insert fails for a
	// reason other than the unique index. True (the default) treats the
	// event as claimed and lets processing continue: losing a legitimate
	// billing event to a transient storage hiccup is worse than risking a
	// duplicate application, and the risk is bounded because every
	// downstream write is an idempotent full-state assignment, not an
	// increment. False returns the error so the webhook is not
	// acknowledged and the provider redelivers.
	failOpen bool
}

func NewRepo(pool *pgxpool.Pool, log *slog.Logger, failOpen bool) *Repo {
	return &Repo{db: pool, log: log, failOpen: failOpen}
}

// Claim atomically records the event. The unique (provider,
// provider_event_id) index is the only mutual-exclusion primitive in the
// whole engine: concurrent duplicate deliveries race on this insert,
// exactly one wins, the rest see the constraint violation and must skip
// all further mutation.
func (r *Repo) Claim(ctx context.Context, ev Event) (bool, error) {
	const q = `
INSERT INTO billing_events (provider, provider_event_id, account_id, op_kind, previous_plan, new_plan, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, q,
		ev.Provider, ev.ProviderEventID, ev.AccountID,
		string(ev.Kind), string(ev.PreviousPlan), string(ev.NewPlan), ev.Metadata,
	)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return false, nil
	}

	r.log.Error("ledger claim insert failed",
		"provider", ev.Provider,
		"provider_event_id", ev.ProviderEventID,
		"fail_open", r.failOpen,
		"err", err,
	)
	if r.failOpen {
		return true, nil
	}
	return false, err
}

func (r *Repo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]Event, error) {
	const q = `
SELECT id, provider, provider_event_id, account_id, op_kind, previous_plan, new_plan, metadata, received_at
FROM billing_events
WHERE account_id = $1
ORDER BY received_at DESC
LIMIT $2`
	rows, err := r.db.Query(ctx, q, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(
			&ev.ID, &ev.Provider, &ev.ProviderEventID, &ev.AccountID,
			&ev.Kind, &ev.PreviousPlan, &ev.NewPlan, &ev.Metadata, &ev.ReceivedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *Repo) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	const q = `
SELECT id, provider, provider_event_id, account_id, op_kind, previous_plan, new_plan, metadata, received_at
FROM billing_events
ORDER BY received_at DESC
LIMIT $1`
	rows, err := r.db.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(
			&ev.ID, &ev.Provider, &ev.ProviderEventID, &ev.AccountID,
			&ev.Kind, &ev.PreviousPlan, &ev.NewPlan, &ev.Metadata, &ev.ReceivedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
