package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pairlingo/entitlements/internal/domain/entitlement"
)

// CounterStore reads and bumps usage counters for one calendar window.
type CounterStore interface {
	Count(ctx context.Context, accountID uuid.UUID, usageType string, windowStart time.Time) (int, error)
	Add(ctx context.Context, accountID uuid.UUID, usageType string, windowStart time.Time, n int) error
}

// Result of a rate-limit check. Remaining/Limit/ResetAt are zero when the
// check short-circuited (unlimited plan or uncapped action).
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
	Err       string
}

// CheckOptions tunes behavior when the counter lookup itself fails.
// Call sites that trigger a paid external AI invocation pass
// FailClosed=true to bound cost exposure; low-risk calls fail open.
type CheckOptions struct {
	FailClosed bool
}

type Denials interface {
	QuotaDenied(action string)
}

type Service struct {
	store   CounterStore
	log     *slog.Logger
	denials Denials
	now     func() time.Time
}

func NewService(store CounterStore, log *slog.Logger, denials Denials) *Service {
	return &Service{store: store, log: log, denials: denials, now: time.Now}
}

// Check decides whether accountID may perform action under plan.
// The unlimited plan short-circuits before touching the counter store
// unless the action carries an explicit cap for it (abuse prevention).
func (s *Service) Check(ctx context.Context, accountID uuid.UUID, action Action, plan entitlement.Plan, opts CheckOptions) Result {
	// The unknown sentinel grants nothing beyond the none tier.
	if plan == entitlement.PlanUnknown || plan == "" {
		plan = entitlement.PlanNone
	}

	limit, capN, ok := limitFor(action, plan)
	if !ok || capN == Unlimited {
		return Result{Allowed: true}
	}

	start := windowStart(limit.Window, s.now())
	resetAt := windowEnd(limit.Window, start)

	count, err := s.store.Count(ctx, accountID, limit.UsageType, start)
	if err != nil {
		s.log.Error("quota counter lookup failed",
			"account_id", accountID,
			"action", action,
			"fail_closed", opts.FailClosed,
			"err", err,
		)
		if opts.FailClosed {
			return Result{Allowed: false, Err: "unable to verify usage limits"}
		}
		return Result{Allowed: true}
	}

	remaining := capN - count
	if remaining < 0 {
		remaining = 0
	}
	if count >= capN {
		if s.denials != nil {
			s.denials.QuotaDenied(string(action))
		}
		return Result{Allowed: false, Remaining: 0, Limit: capN, ResetAt: resetAt}
	}
	return Result{Allowed: true, Remaining: remaining, Limit: capN, ResetAt: resetAt}
}

// Increment charges n units against the action's counter. Call it only
// after the gated action succeeded; a failed downstream call never
// consumes quota. Failures are logged, never surfaced: quotas are abuse
// prevention, not a billing ledger.
func (s *Service) Increment(ctx context.Context, accountID uuid.UUID, action Action, n int) {
	limit, ok := Limits[action]
	if !ok {
		return
	}
	start := windowStart(limit.Window, s.now())
	if err := s.store.Add(ctx, accountID, limit.UsageType, start, n); err != nil {
		s.log.Error("usage increment failed",
			"account_id", accountID,
			"usage_type", limit.UsageType,
			"err", err,
		)
	}
}
