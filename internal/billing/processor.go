// Package billing glues a verified, normalized provider event to the
// entitlement engine: ledger claim, state transition, assignment, and
// partner cascade.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pairlingo/entitlements/internal/domain/accounts"
	"github.com/pairlingo/entitlements/internal/domain/entitlement"
	"github.com/pairlingo/entitlements/internal/domain/ledger"
)

// NormalizedEvent is a provider webhook after normalization: one
// canonical operation plus the hints needed to find the account.
type NormalizedEvent struct {
	Provider  string
	EventID   string
	EventType string

	// AccountID is the provider-carried account reference (metadata for
	// Stripe, app_user_id for RevenueCat). CustomerID is the billing
	// customer id fallback lookup. At least one must resolve.
	AccountID  string
	CustomerID string

	// PersistCustomerID asks the processor to store CustomerID on the
	// account so later events can find it without metadata.
	PersistCustomerID bool

	Op        entitlement.Operation
	ProductID string
	Metadata  map[string]any
}

// Result reports what happened to a processed event. Everything except
// hard resolution failures acknowledges the webhook: retry pressure
// belongs to the provider, and this engine never self-retries.
type Result struct {
	Duplicate   bool
	Skipped     bool // account could not be resolved; logged, acked
	WriteFailed bool // claim succeeded but the state write did not
}

type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
	GetByBillingCustomerID(ctx context.Context, customerID string) (*accounts.Account, error)
	SetBillingCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
	AssignSubscription(ctx context.Context, id uuid.UUID, st entitlement.SubscriptionState) error
}

type LedgerStore interface {
	Claim(ctx context.Context, ev ledger.Event) (bool, error)
}

type Cascader interface {
	Apply(ctx context.Context, grantorID uuid.UUID, grantorGrantedBy *uuid.UUID, st entitlement.SubscriptionState) error
}

type Metrics interface {
	WebhookEvent(provider, result string)
	CascadeFailure()
}

type Alerter interface {
	Notify(text string)
}

type Processor struct {
	accounts AccountStore
	ledger   LedgerStore
	cascade  Cascader
	metrics  Metrics
	alert    Alerter
	log      *slog.Logger
}

func NewProcessor(accounts AccountStore, ledgerStore LedgerStore, cascade Cascader, metrics Metrics, alert Alerter, log *slog.Logger) *Processor {
	return &Processor{
		accounts: accounts,
		ledger:   ledgerStore,
		cascade:  cascade,
		metrics:  metrics,
		alert:    alert,
		log:      log,
	}
}

// Process claims the event, computes the state transition, writes it,
// and cascades the result to a linked dependent.
//
// A non-nil error means the webhook must NOT be acknowledged; that
// happens only before anything was claimed (account lookup infra errors)
// or when the fail-closed ledger policy rejects the claim. Every other
// failure mode is folded into Result and acknowledged, per the provider
// retry contract.
func (p *Processor) Process(ctx context.Context, ev NormalizedEvent) (Result, error) {
	acct, err := p.resolveAccount(ctx, ev)
	if err != nil {
		return Result{}, err
	}
	if acct == nil {
		p.log.Warn("webhook event for unresolvable account",
			"provider", ev.Provider,
			"event_id", ev.EventID,
			"event_type", ev.EventType,
			"customer_id", ev.CustomerID,
		)
		p.count(ev.Provider, "skipped")
		return Result{Skipped: true}, nil
	}

	if ev.Op.Plan == entitlement.PlanUnknown {
		// Still claimed and acknowledged so the provider does not enter a
		// retry storm; the anomaly is surfaced loudly instead of raised.
		p.log.Error("unknown product mapping",
			"provider", ev.Provider,
			"event_id", ev.EventID,
			"product_id", ev.ProductID,
			"account_id", acct.ID,
		)
		p.count(ev.Provider, "unknown_product")
		if p.alert != nil {
			p.alert.Notify(fmt.Sprintf("unknown %s product id %q on event %s", ev.Provider, ev.ProductID, ev.EventID))
		}
	}

	next := entitlement.Transition(acct.Subscription, ev.Op)

	claimed, err := p.ledger.Claim(ctx, ledger.Event{
		Provider:        ev.Provider,
		ProviderEventID: ev.EventID,
		AccountID:       acct.ID,
		Kind:            ev.Op.Kind,
		PreviousPlan:    planOrNone(acct.Subscription.Plan),
		NewPlan:         planOrNone(next.Plan),
		Metadata:        ev.Metadata,
	})
	if err != nil {
		// Fail-closed ledger policy: surface so the handler returns non-2xx
		// and the provider redelivers.
		return Result{}, fmt.Errorf("claim event: %w", err)
	}
	if !claimed {
		p.log.Info("duplicate event skipped",
			"provider", ev.Provider,
			"event_id", ev.EventID,
		)
		p.count(ev.Provider, "duplicate")
		return Result{Duplicate: true}, nil
	}

	// The claim is durable; from here on the webhook is acknowledged no
	// matter what. A lost state write is logged and self-heals on the
	// provider's next renewal event.
	if err := p.accounts.AssignSubscription(ctx, acct.ID, next); err != nil {
		p.log.Error("state write failed after successful claim",
			"provider", ev.Provider,
			"event_id", ev.EventID,
			"account_id", acct.ID,
			"err", err,
		)
		p.count(ev.Provider, "write_failed")
		if p.alert != nil {
			p.alert.Notify(fmt.Sprintf("entitlement write failed for account %s after claiming %s event %s", acct.ID, ev.Provider, ev.EventID))
		}
		return Result{WriteFailed: true}, nil
	}

	if ev.PersistCustomerID && ev.CustomerID != "" {
		if err := p.accounts.SetBillingCustomerID(ctx, acct.ID, ev.CustomerID); err != nil {
			p.log.Error("failed to persist billing customer id", "account_id", acct.ID, "err", err)
		}
	}

	if err := p.cascade.Apply(ctx, acct.ID, acct.GrantedBy, next); err != nil {
		// Secondary step: logged only, the ack stands.
		if !errors.Is(err, entitlement.ErrChainedInheritance) {
			p.log.Error("partner cascade failed",
				"grantor_id", acct.ID,
				"event_id", ev.EventID,
				"err", err,
			)
		}
		if p.metrics != nil {
			p.metrics.CascadeFailure()
		}
	}

	p.log.Info("billing event processed",
		"provider", ev.Provider,
		"event_id", ev.EventID,
		"event_type", ev.EventType,
		"account_id", acct.ID,
		"op", ev.Op.Kind,
		"plan", next.Plan,
		"status", next.Status,
	)
	p.count(ev.Provider, "processed")
	return Result{}, nil
}

func (p *Processor) resolveAccount(ctx context.Context, ev NormalizedEvent) (*accounts.Account, error) {
	if ev.AccountID != "" {
		id, err := uuid.Parse(ev.AccountID)
		if err != nil {
			p.log.Warn("malformed account reference in event", "provider", ev.Provider, "account_id", ev.AccountID)
			return nil, nil
		}
		a, err := p.accounts.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load account: %w", err)
		}
		if a != nil {
			return a, nil
		}
	}
	if ev.CustomerID != "" {
		a, err := p.accounts.GetByBillingCustomerID(ctx, ev.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("load account by customer id: %w", err)
		}
		return a, nil
	}
	return nil, nil
}

// planOrNone canonicalizes the zero-value plan of a never-subscribed
// account so the audit trail never carries an empty plan.
func planOrNone(plan entitlement.Plan) entitlement.Plan {
	if plan == "" {
		return entitlement.PlanNone
	}
	return plan
}

func (p *Processor) count(provider, result string) {
	if p.metrics != nil {
		p.metrics.WebhookEvent(provider, result)
	}
}
