package http

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pairlingo/entitlements/internal/domain/accounts"
	"github.com/pairlingo/entitlements/internal/domain/entitlement"
	"github.com/pairlingo/entitlements/internal/domain/quota"
)

// requireToken guards the internal account and admin endpoints. Webhook
// routes have their own provider-specific verification and bypass this.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, http.StatusServiceUnavailable, "service token not configured")
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type ctxKey int

const accountKey ctxKey = 0

// AccountFrom returns the account loaded by the quota gate, if any.
func AccountFrom(ctx context.Context) *accounts.Account {
	a, _ := ctx.Value(accountKey).(*accounts.Account)
	return a
}

type AccountGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
}

// QuotaGate loads the account named in the {id} path segment, runs the
// rate-limit check for one action and, when the wrapped handler answers
// with a 2xx, charges the action against the window counter. Charging
// only after success means a rejected request never burns quota.
type QuotaGate struct {
	quotas   *quota.Service
	accounts AccountGetter
	log      *slog.Logger
}

func NewQuotaGate(quotas *quota.Service, accounts AccountGetter, log *slog.Logger) *QuotaGate {
	return &QuotaGate{quotas: quotas, accounts: accounts, log: log}
}

func (g *QuotaGate) Limit(action quota.Action, opts quota.CheckOptions, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid account id")
			return
		}

		a, err := g.accounts.GetByID(r.Context(), id)
		if err != nil {
			g.log.Error("quota gate: load account", "account_id", id, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if a == nil {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}

		res := g.quotas.Check(r.Context(), id, action, planOf(a), opts)
		if !res.Allowed {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":     "quota exceeded",
				"remaining": res.Remaining,
				"limit":     res.Limit,
				"resetAt":   res.ResetAt,
			})
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), accountKey, a)))

		if rec.status < 300 {
			g.quotas.Increment(r.Context(), id, action, 1)
		}
	})
}

// planOf maps an account to its effective quota tier. Inherited
// subscriptions are mirrored into the subscription columns, so the
// entitlement check covers both payers and dependents.
func planOf(a *accounts.Account) entitlement.Plan {
	if a.Subscription.Entitled() {
		return a.Subscription.Plan
	}
	return entitlement.PlanNone
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
