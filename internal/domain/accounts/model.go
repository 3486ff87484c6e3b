package accounts

import (
	"time"

	"github.com/google/uuid"

	"github.com/pairlingo/entitlements/internal/domain/entitlement"
)

// Account is a user identity with its embedded subscription record.
//
// LinkedUserID is the mutual partner link (symmetric, at most one).
// GrantedBy points at the grantor whose subscription this account
// inherits; nil for independent accounts.
type Account struct {
	ID                uuid.UUID
	Email             string
	FullName          string
	BillingCustomerID *string
	LinkedUserID      *uuid.UUID
	GrantedBy         *uuid.UUID
	GrantedAt         *time.Time
	Subscription      entitlement.SubscriptionState
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsPayer reports whether the account owns its subscription rather than
// inheriting it from a partner.
func (a *Account) IsPayer() bool { return a.GrantedBy == nil }
