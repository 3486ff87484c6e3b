package revenuecat

import (
	"strings"
	"time"

	"github.com/pairlingo/entitlements/internal/billing"
	"github.com/pairlingo/entitlements/internal/domain/entitlement"
	"github.com/pairlingo/entitlements/internal/domain/ledger"
)

// Normalizer maps RevenueCat's event vocabulary onto the canonical
// operation kinds. app_user_id is our account id; product ids resolve
// through the static product table.
type Normalizer struct {
	products billing.ProductTable
	now      func() time.Time
}

func NewNormalizer(products billing.ProductTable) *Normalizer {
	return &Normalizer{products: products, now: time.Now}
}

var opKinds = map[string]entitlement.OpKind{
	"INITIAL_PURCHASE": entitlement.OpGrant,
	"RENEWAL":          entitlement.OpRenew,
	"CANCELLATION":     entitlement.OpSoftCancel,
	"UNCANCELLATION":   entitlement.OpUncancel,
	"EXPIRATION":       entitlement.OpExpire,
	"BILLING_ISSUE":    entitlement.OpBillingIssue,
	"PRODUCT_CHANGE":   entitlement.OpPlanChange,
}

// Normalize turns a parsed RevenueCat event into a NormalizedEvent.
// handled=false means the event type is not one this engine consumes
// (e.g. SUBSCRIBER_ALIAS, TRANSFER).
func (n *Normalizer) Normalize(e *eventPayload) (billing.NormalizedEvent, bool) {
	eventID := strings.TrimSpace(e.ID)
	if eventID == "" {
		eventID = syntheticEventID(n.now())
	}
	ev := billing.NormalizedEvent{
		Provider:  ledger.ProviderRevenueCat,
		EventID:   eventID,
		EventType: e.Type,
		AccountID: strings.TrimSpace(e.AppUserID),
		ProductID: e.ProductID,
		Metadata: map[string]any{
			"product_id": e.ProductID,
		},
	}

	kind, ok := opKinds[e.Type]
	if !ok {
		return ev, false
	}
	ref := n.products.Resolve(e.ProductID)
	ev.Op = entitlement.Operation{
		Kind:      kind,
		Plan:      ref.Plan,
		Period:    ref.Period,
		ExpiresAt: expiry(e.ExpirationAtMs),
		Source:    entitlement.SourceAppStore,
	}

	// Status-only operations carry no plan of their own; leaving the
	// plan empty keeps an unmapped product id on a cancellation or
	// billing issue from tripping the unknown-product path.
	switch kind {
	case entitlement.OpSoftCancel, entitlement.OpUncancel, entitlement.OpExpire, entitlement.OpBillingIssue:
		ev.Op.Plan = ""
		ev.Op.Period = ""
	}
	return ev, true
}

// expiry converts RevenueCat's millisecond expiration timestamp to UTC.
func expiry(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
