package accounts

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pairlingo/entitlements/internal/domain/entitlement"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const accountColumns = `id, email, full_name, billing_customer_id, linked_user_id, granted_by, granted_at,
	subscription_plan, subscription_status, subscription_period, subscription_expires_at, subscription_source,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a         Account
		customer  sql.NullString
		linked    *uuid.UUID
		grantedBy *uuid.UUID
		grantedAt *time.Time
		period    sql.NullString
		expires   *time.Time
		source    sql.NullString
	)
	if err := row.Scan(
		&a.ID, &a.Email, &a.FullName, &customer, &linked, &grantedBy, &grantedAt,
		&a.Subscription.Plan, &a.Subscription.Status, &period, &expires, &source,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if customer.Valid {
		a.BillingCustomerID = &customer.String
	}
	a.LinkedUserID = linked
	a.GrantedBy = grantedBy
	a.GrantedAt = grantedAt
	if period.Valid {
		a.Subscription.Period = entitlement.Period(period.String)
	}
	a.Subscription.ExpiresAt = expires
	if source.Valid {
		a.Subscription.Source = entitlement.Source(source.String)
	}
	return &a, nil
}

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	a, err := scanAccount(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (r *Repo) GetByBillingCustomerID(ctx context.Context, customerID string) (*Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE billing_customer_id = $1`
	a, err := scanAccount(r.pool.QueryRow(ctx, q, customerID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (r *Repo) SetBillingCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	const q = `UPDATE accounts SET billing_customer_id = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, customerID)
	return err
}

// AssignSubscription overwrites the full subscription record. Always a
// full-state assignment, never a delta: this is what makes duplicate and
// replayed webhook deliveries safe to re-apply.
func (r *Repo) AssignSubscription(ctx context.Context, id uuid.UUID, st entitlement.SubscriptionState) error {
	const q = `
UPDATE accounts
SET subscription_plan = $2,
    subscription_status = $3,
    subscription_period = NULLIF($4, ''),
    subscription_expires_at = $5,
    subscription_source = NULLIF($6, ''),
    updated_at = NOW()
WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, string(st.Plan), string(st.Status), string(st.Period), st.ExpiresAt, string(st.Source))
	return err
}

// FindDependentID is the indexed reverse lookup for the partner cascade:
// the one account whose granted_by points at grantorID, first match only.
func (r *Repo) FindDependentID(ctx context.Context, grantorID uuid.UUID) (uuid.UUID, bool, error) {
	const q = `SELECT id FROM accounts WHERE granted_by = $1 ORDER BY created_at LIMIT 1`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, grantorID).Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return id, true, nil
}

func (r *Repo) SetLink(ctx context.Context, id, partnerID uuid.UUID) error {
	const q = `UPDATE accounts SET linked_user_id = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, partnerID)
	return err
}

func (r *Repo) ClearLink(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE accounts SET linked_user_id = NULL, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

func (r *Repo) SetGrant(ctx context.Context, id, grantorID uuid.UUID) error {
	const q = `UPDATE accounts SET granted_by = $2, granted_at = NOW(), updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, grantorID)
	return err
}

// RevokeInherited clears an inherited subscription in one statement:
// plan none, status inactive, grant reference gone.
func (r *Repo) RevokeInherited(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE accounts
SET subscription_plan = 'none',
    subscription_status = 'inactive',
    subscription_period = NULL,
    subscription_expires_at = NULL,
    subscription_source = NULL,
    granted_by = NULL,
    granted_at = NULL,
    updated_at = NOW()
WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// RestoreGrant is the compensation path for reconciliation: puts back a
// previously revoked inherited record after a later write failed.
func (r *Repo) RestoreGrant(ctx context.Context, id, grantorID uuid.UUID, st entitlement.SubscriptionState) error {
	const q = `
UPDATE accounts
SET subscription_plan = $3,
    subscription_status = $4,
    subscription_period = NULLIF($5, ''),
    subscription_expires_at = $6,
    subscription_source = NULLIF($7, ''),
    granted_by = $2,
    granted_at = NOW(),
    updated_at = NOW()
WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, grantorID, string(st.Plan), string(st.Status), string(st.Period), st.ExpiresAt, string(st.Source))
	return err
}

func (r *Repo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return err
}
