package revenuecat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlingo/entitlements/internal/billing"
	"github.com/pairlingo/entitlements/internal/domain/accounts"
	"github.com/pairlingo/entitlements/internal/domain/entitlement"
	"github.com/pairlingo/entitlements/internal/domain/ledger"
)

const testSecret = "rc_shared_secret"

type stubAccounts struct {
	account *accounts.Account
}

func (s *stubAccounts) GetByID(_ context.Context, id uuid.UUID) (*accounts.Account, error) {
	if s.account != nil && s.account.ID == id {
		return s.account, nil
	}
	return nil, nil
}

func (s *stubAccounts) GetByBillingCustomerID(_ context.Context, _ string) (*accounts.Account, error) {
	return nil, nil
}

func (s *stubAccounts) SetBillingCustomerID(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}

func (s *stubAccounts) AssignSubscription(_ context.Context, _ uuid.UUID, st entitlement.SubscriptionState) error {
	s.account.Subscription = st
	return nil
}

type stubLedger struct{ events []ledger.Event }

func (s *stubLedger) Claim(_ context.Context, ev ledger.Event) (bool, error) {
	for _, e := range s.events {
		if e.Provider == ev.Provider && e.ProviderEventID == ev.ProviderEventID {
			return false, nil
		}
	}
	s.events = append(s.events, ev)
	return true, nil
}

type stubCascader struct{}

func (stubCascader) Apply(_ context.Context, _ uuid.UUID, _ *uuid.UUID, _ entitlement.SubscriptionState) error {
	return nil
}

type recordingAlerter struct{ msgs []string }

func (r *recordingAlerter) Notify(text string) { r.msgs = append(r.msgs, text) }

func testProducts() billing.ProductTable {
	return billing.ProductTable{
		"app_standard_monthly": {Plan: entitlement.PlanStandard, Period: entitlement.PeriodMonthly},
	}
}

func newTestHandler(acct *accounts.Account, alerts *recordingAlerter) (*Handler, *stubLedger) {
	log := slog.New(slog.DiscardHandler)
	led := &stubLedger{}
	var alerter billing.Alerter
	if alerts != nil {
		alerter = alerts
	}
	processor := billing.NewProcessor(&stubAccounts{account: acct}, led, stubCascader{}, nil, alerter, log)
	return NewHandler(testSecret, NewNormalizer(testProducts()), processor, log), led
}

func post(h *Handler, auth string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/revenuecat", strings.NewReader(string(raw)))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	h.ServeHTTP(rec, req)
	return rec
}

func rcEvent(id, typ string, accountID uuid.UUID, productID string) map[string]any {
	return map[string]any{
		"event": map[string]any{
			"id":               id,
			"type":             typ,
			"app_user_id":      accountID.String(),
			"product_id":       productID,
			"expiration_at_ms": 1790000000000,
		},
	}
}

func TestHandlerRejectsBadBearer(t *testing.T) {
	h, _ := newTestHandler(nil, nil)

	assert.Equal(t, http.StatusUnauthorized, post(h, "", rcEvent("rc_1", "RENEWAL", uuid.New(), "p")).Code)
	assert.Equal(t, http.StatusUnauthorized, post(h, "Bearer wrong", rcEvent("rc_1", "RENEWAL", uuid.New(), "p")).Code)
	assert.Equal(t, http.StatusUnauthorized, post(h, testSecret, rcEvent("rc_1", "RENEWAL", uuid.New(), "p")).Code, "scheme prefix required")
}

func TestHandlerRejectsMissingEvent(t *testing.T) {
	h, _ := newTestHandler(nil, nil)
	assert.Equal(t, http.StatusBadRequest, post(h, "Bearer "+testSecret, map[string]any{}).Code)
}

func TestHandlerRejectsMissingAppUserID(t *testing.T) {
	h, _ := newTestHandler(nil, nil)
	body := map[string]any{"event": map[string]any{"id": "rc_1", "type": "RENEWAL"}}
	assert.Equal(t, http.StatusBadRequest, post(h, "Bearer "+testSecret, body).Code)
}

func TestHandlerProcessesInitialPurchase(t *testing.T) {
	acct := &accounts.Account{ID: uuid.New()}
	h, led := newTestHandler(acct, nil)

	rec := post(h, "Bearer "+testSecret, rcEvent("rc_1", "INITIAL_PURCHASE", acct.ID, "app_standard_monthly"))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, entitlement.PlanStandard, acct.Subscription.Plan)
	assert.Equal(t, entitlement.StatusActive, acct.Subscription.Status)
	assert.Equal(t, entitlement.SourceAppStore, acct.Subscription.Source)
	require.NotNil(t, acct.Subscription.ExpiresAt)

	require.Len(t, led.events, 1)
	assert.Equal(t, "revenuecat", led.events[0].Provider)
	assert.Equal(t, "rc_1", led.events[0].ProviderEventID)
}

func TestHandlerDuplicateEventAcked(t *testing.T) {
	acct := &accounts.Account{ID: uuid.New()}
	h, led := newTestHandler(acct, nil)

	body := rcEvent("rc_dup", "INITIAL_PURCHASE", acct.ID, "app_standard_monthly")
	require.Equal(t, http.StatusOK, post(h, "Bearer "+testSecret, body).Code)

	second := post(h, "Bearer "+testSecret, body)
	require.Equal(t, http.StatusOK, second.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["duplicate"])
	assert.Len(t, led.events, 1)
}

func TestHandlerIgnoresUnmappedEventTypes(t *testing.T) {
	acct := &accounts.Account{ID: uuid.New()}
	h, led := newTestHandler(acct, nil)

	rec := post(h, "Bearer "+testSecret, rcEvent("rc_1", "SUBSCRIBER_ALIAS", acct.ID, "app_standard_monthly"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, led.events, "ignored types are acked without claiming")
}

// An unknown product on a purchase is still claimed, applied as the
// unknown sentinel, acknowledged, and alerted on. The user's access is
// wrong until the mapping is fixed, but the provider stops redelivering.
func TestHandlerUnknownProductAlertsAndAcks(t *testing.T) {
	acct := &accounts.Account{ID: uuid.New()}
	alerts := &recordingAlerter{}
	h, led := newTestHandler(acct, alerts)

	rec := post(h, "Bearer "+testSecret, rcEvent("rc_1", "INITIAL_PURCHASE", acct.ID, "app_mystery_product"))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, entitlement.PlanUnknown, acct.Subscription.Plan)
	assert.False(t, acct.Subscription.Entitled())
	assert.Len(t, led.events, 1)
	require.Len(t, alerts.msgs, 1)
	assert.Contains(t, alerts.msgs[0], "app_mystery_product")
}

func TestNormalizeStatusOnlyOpsCarryNoPlan(t *testing.T) {
	n := NewNormalizer(testProducts())

	for _, typ := range []string{"CANCELLATION", "UNCANCELLATION", "EXPIRATION", "BILLING_ISSUE"} {
		ev, handled := n.Normalize(&eventPayload{
			ID: "rc_1", Type: typ, AppUserID: uuid.NewString(), ProductID: "app_mystery_product",
		})
		require.True(t, handled, typ)
		assert.Empty(t, ev.Op.Plan, "%s must not trip the unknown-product path", typ)
	}
}

func TestNormalizeSyntheticEventID(t *testing.T) {
	n := NewNormalizer(testProducts())
	ev, handled := n.Normalize(&eventPayload{Type: "RENEWAL", AppUserID: uuid.NewString()})
	require.True(t, handled)
	assert.True(t, strings.HasPrefix(ev.EventID, "rc_"))
}
