package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/pairlingo/entitlements/internal/domain/entitlement"
)

const (
	ProviderStripe     = "stripe"
	ProviderRevenueCat = "revenuecat"
)

// Event is one row of the append-only billing audit trail. Rows are
// written exactly once, on webhook receipt, and never mutated or deleted.
type Event struct {
	ID              int64
	Provider        string
	ProviderEventID string
	AccountID       uuid.UUID
	Kind            entitlement.OpKind
	PreviousPlan    entitlement.Plan
	NewPlan         entitlement.Plan
	Metadata        map[string]any
	ReceivedAt      time.Time
}
