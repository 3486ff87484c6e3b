package entitlement

import "time"

type Plan string

const (
	PlanNone      Plan = "none"
	PlanStandard  Plan = "standard"
	PlanUnlimited Plan = "unlimited"
	// PlanUnknown is the sentinel for product identifiers the normalizer
	// could not resolve. The event is still claimed and acknowledged so the
	// provider stops redelivering; the anomaly surfaces through logging.
	PlanUnknown Plan = "unknown"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusInactive Status = "inactive"
)

type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
	PeriodUnknown Period = "unknown"
)

type Source string

const (
	SourceStripe    Source = "stripe"
	SourceAppStore  Source = "app_store"
	SourceInherited Source = "inherited"
)

// SubscriptionState is the canonical paid-access record embedded in an
// account. It is mutated only by Transition results, the partner cascade,
// and unlink/delete reconciliation.
type SubscriptionState struct {
	Plan      Plan
	Status    Status
	Period    Period
	ExpiresAt *time.Time
	Source    Source
}

type OpKind string

const (
	OpGrant        OpKind = "grant"
	OpRenew        OpKind = "renew"
	OpSoftCancel   OpKind = "soft_cancel"
	OpUncancel     OpKind = "uncancel"
	OpExpire       OpKind = "expire"
	OpBillingIssue OpKind = "billing_issue"
	OpPlanChange   OpKind = "plan_change"
)

// Operation is a provider event after normalization: one canonical kind
// plus the plan/period/expiry the event resolves to.
type Operation struct {
	Kind      OpKind
	Plan      Plan
	Period    Period
	ExpiresAt *time.Time
	Source    Source
}

// Transition applies op to cur and returns the resulting state.
//
// Every arm assigns the full target state rather than a delta, so
// re-applying the same or a stale event is self-correcting as long as it
// is the last one processed. Providers attach no sequence numbers, so a
// genuinely out-of-order delivery (an old renew after a newer expire) can
// regress state until the next provider event arrives. That race comes
// with the providers' delivery contract; do not paper over it here.
func Transition(cur SubscriptionState, op Operation) SubscriptionState {
	switch op.Kind {
	case OpGrant:
		return SubscriptionState{
			Plan:      op.Plan,
			Status:    StatusActive,
			Period:    op.Period,
			ExpiresAt: op.ExpiresAt,
			Source:    op.Source,
		}
	case OpRenew:
		next := cur
		next.Status = StatusActive
		next.ExpiresAt = op.ExpiresAt
		next.Source = op.Source
		// A renewal can carry a plan change when the provider folds both
		// into one delivery.
		if op.Plan != "" && op.Plan != cur.Plan {
			next.Plan = op.Plan
			next.Period = op.Period
		}
		return next
	case OpSoftCancel:
		next := cur
		next.Status = StatusCanceled
		next.Source = op.Source
		return next
	case OpUncancel:
		next := cur
		next.Status = StatusActive
		next.Source = op.Source
		return next
	case OpExpire:
		return SubscriptionState{
			Plan:      PlanNone,
			Status:    StatusInactive,
			Period:    "",
			ExpiresAt: nil,
			Source:    op.Source,
		}
	case OpBillingIssue:
		next := cur
		next.Status = StatusPastDue
		next.Source = op.Source
		return next
	case OpPlanChange:
		return SubscriptionState{
			Plan:      op.Plan,
			Status:    StatusActive,
			Period:    op.Period,
			ExpiresAt: op.ExpiresAt,
			Source:    op.Source,
		}
	default:
		return cur
	}
}

// Entitled reports whether the state currently grants paid access.
// Canceled keeps access until the provider delivers the expire event.
func (s SubscriptionState) Entitled() bool {
	switch s.Status {
	case StatusActive, StatusCanceled, StatusPastDue:
		return s.Plan == PlanStandard || s.Plan == PlanUnlimited
	default:
		return false
	}
}
