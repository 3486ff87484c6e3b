// Package stripeprovider receives and normalizes Stripe webhook events
// for the web/card side of the entitlement engine.
package stripeprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/pairlingo/entitlements/internal/billing"
	"github.com/pairlingo/entitlements/internal/domain/entitlement"
	"github.com/pairlingo/entitlements/internal/domain/ledger"
)

// accountMetadataKey is the metadata field carrying our account id,
// attached to checkout sessions and subscriptions at purchase time.
const accountMetadataKey = "account_id"

// SubscriptionFetcher pulls the price and period end for a subscription
// id. Checkout sessions do not embed line items, so the grant arm needs
// one lookup against the Stripe API.
type SubscriptionFetcher interface {
	Subscription(ctx context.Context, id string) (priceID string, periodEnd time.Time, err error)
}

// Lenient local payload structs, decoded from event.Data.Raw. Only the
// fields this engine consumes; unknown fields are ignored.

type checkoutSession struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type subscriptionPayload struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type invoicePayload struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

// Normalizer maps Stripe's event vocabulary onto the canonical
// operation kinds.
type Normalizer struct {
	prices billing.ProductTable
	fetch  SubscriptionFetcher
}

func NewNormalizer(prices billing.ProductTable, fetch SubscriptionFetcher) *Normalizer {
	return &Normalizer{prices: prices, fetch: fetch}
}

// Normalize turns a verified Stripe event into a NormalizedEvent.
// handled=false means the event type is not one this engine consumes.
func (n *Normalizer) Normalize(ctx context.Context, event *stripe.Event) (ev billing.NormalizedEvent, handled bool, err error) {
	ev = billing.NormalizedEvent{
		Provider:  ledger.ProviderStripe,
		EventID:   event.ID,
		EventType: string(event.Type),
	}

	switch event.Type {
	case "checkout.session.completed":
		var session checkoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return ev, false, fmt.Errorf("decode checkout.session: %w", err)
		}
		subID := strings.TrimSpace(session.Subscription)
		if subID == "" {
			// Non-subscription checkout; nothing to synchronize.
			return ev, false, nil
		}
		priceID, periodEnd, err := n.fetch.Subscription(ctx, subID)
		if err != nil {
			return ev, false, fmt.Errorf("fetch subscription %s: %w", subID, err)
		}
		ref := n.prices.Resolve(priceID)
		ev.AccountID = session.Metadata[accountMetadataKey]
		ev.CustomerID = strings.TrimSpace(session.Customer)
		ev.PersistCustomerID = true
		ev.ProductID = priceID
		ev.Op = entitlement.Operation{
			Kind:      entitlement.OpGrant,
			Plan:      ref.Plan,
			Period:    ref.Period,
			ExpiresAt: expiry(periodEnd),
			Source:    entitlement.SourceStripe,
		}
		ev.Metadata = map[string]any{
			"session_id":      session.ID,
			"subscription_id": subID,
			"price_id":        priceID,
		}
		return ev, true, nil

	case "customer.subscription.updated":
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return ev, false, fmt.Errorf("decode subscription: %w", err)
		}
		priceID := firstPriceID(sub)
		ref := n.prices.Resolve(priceID)
		ev.AccountID = sub.Metadata[accountMetadataKey]
		ev.CustomerID = strings.TrimSpace(sub.Customer)
		ev.ProductID = priceID
		ev.Metadata = map[string]any{
			"subscription_id": sub.ID,
			"price_id":        priceID,
			"status":          sub.Status,
		}
		ev.Op = updatedOperation(sub, ref)
		return ev, true, nil

	case "customer.subscription.deleted":
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return ev, false, fmt.Errorf("decode subscription: %w", err)
		}
		ev.AccountID = sub.Metadata[accountMetadataKey]
		ev.CustomerID = strings.TrimSpace(sub.Customer)
		ev.Metadata = map[string]any{"subscription_id": sub.ID}
		ev.Op = entitlement.Operation{
			Kind:   entitlement.OpExpire,
			Source: entitlement.SourceStripe,
		}
		return ev, true, nil

	case "invoice.payment_failed":
		var inv invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return ev, false, fmt.Errorf("decode invoice: %w", err)
		}
		ev.CustomerID = strings.TrimSpace(inv.Customer)
		ev.Metadata = map[string]any{"invoice_id": inv.ID}
		ev.Op = entitlement.Operation{
			Kind:   entitlement.OpBillingIssue,
			Source: entitlement.SourceStripe,
		}
		return ev, true, nil

	default:
		return ev, false, nil
	}
}

// updatedOperation derives the canonical kind for
// customer.subscription.updated. Stripe folds renewal, plan change,
// uncancellation, and cancel-at-period-end into this one type; the
// subscription's status and flags disambiguate.
func updatedOperation(sub subscriptionPayload, ref billing.PlanRef) entitlement.Operation {
	end := expiry(periodEnd(sub))
	switch strings.ToLower(strings.TrimSpace(sub.Status)) {
	case "past_due", "unpaid":
		return entitlement.Operation{Kind: entitlement.OpBillingIssue, Source: entitlement.SourceStripe}
	case "canceled", "incomplete_expired":
		return entitlement.Operation{Kind: entitlement.OpExpire, Source: entitlement.SourceStripe}
	default:
		if sub.CancelAtPeriodEnd {
			// User keeps access until the period end arrives as a
			// subscription.deleted event.
			return entitlement.Operation{Kind: entitlement.OpSoftCancel, Source: entitlement.SourceStripe}
		}
		// Renewal; carries the plan so a folded-in plan change applies.
		return entitlement.Operation{
			Kind:      entitlement.OpRenew,
			Plan:      ref.Plan,
			Period:    ref.Period,
			ExpiresAt: end,
			Source:    entitlement.SourceStripe,
		}
	}
}

// periodEnd prefers the subscription-level field and falls back to the
// first item: the field's home differs across Stripe API versions.
func periodEnd(sub subscriptionPayload) time.Time {
	if sub.CurrentPeriodEnd > 0 {
		return time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	for _, item := range sub.Items.Data {
		if item.CurrentPeriodEnd > 0 {
			return time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return time.Time{}
}

func firstPriceID(sub subscriptionPayload) string {
	for _, item := range sub.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			return id
		}
	}
	return ""
}

func expiry(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
