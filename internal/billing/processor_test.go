package billing

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlingo/entitlements/internal/domain/accounts"
	"github.com/pairlingo/entitlements/internal/domain/entitlement"
	"github.com/pairlingo/entitlements/internal/domain/ledger"
)

type fakeAccountStore struct {
	byID       map[uuid.UUID]*accounts.Account
	byCustomer map[string]*accounts.Account

	getErr    error
	assignErr error

	assigned   map[uuid.UUID]entitlement.SubscriptionState
	customerOf map[uuid.UUID]string
}

func newFakeAccountStore(as ...*accounts.Account) *fakeAccountStore {
	f := &fakeAccountStore{
		byID:       map[uuid.UUID]*accounts.Account{},
		byCustomer: map[string]*accounts.Account{},
		assigned:   map[uuid.UUID]entitlement.SubscriptionState{},
		customerOf: map[uuid.UUID]string{},
	}
	for _, a := range as {
		f.byID[a.ID] = a
		if a.BillingCustomerID != nil {
			f.byCustomer[*a.BillingCustomerID] = a
		}
	}
	return f
}

func (f *fakeAccountStore) GetByID(_ context.Context, id uuid.UUID) (*accounts.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.byID[id], nil
}

func (f *fakeAccountStore) GetByBillingCustomerID(_ context.Context, customerID string) (*accounts.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.byCustomer[customerID], nil
}

func (f *fakeAccountStore) SetBillingCustomerID(_ context.Context, id uuid.UUID, customerID string) error {
	f.customerOf[id] = customerID
	return nil
}

func (f *fakeAccountStore) AssignSubscription(_ context.Context, id uuid.UUID, st entitlement.SubscriptionState) error {
	if f.assignErr != nil {
		return f.assignErr
	}
	f.assigned[id] = st
	if a, ok := f.byID[id]; ok {
		a.Subscription = st
	}
	return nil
}

type fakeLedger struct {
	claimed  map[string]bool
	claimErr error
	events   []ledger.Event
}

func newFakeLedger() *fakeLedger { return &fakeLedger{claimed: map[string]bool{}} }

func (f *fakeLedger) Claim(_ context.Context, ev ledger.Event) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	k := ev.Provider + "|" + ev.ProviderEventID
	if f.claimed[k] {
		return false, nil
	}
	f.claimed[k] = true
	f.events = append(f.events, ev)
	return true, nil
}

type fakeCascader struct {
	calls []entitlement.SubscriptionState
	err   error
}

func (f *fakeCascader) Apply(_ context.Context, _ uuid.UUID, _ *uuid.UUID, st entitlement.SubscriptionState) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, st)
	return nil
}

type fakeMetrics struct {
	events   map[string]int
	cascades int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{events: map[string]int{}} }

func (f *fakeMetrics) WebhookEvent(provider, result string) { f.events[provider+"/"+result]++ }
func (f *fakeMetrics) CascadeFailure()                      { f.cascades++ }

func testAccount() *accounts.Account {
	cust := "cus_123"
	return &accounts.Account{
		ID:                uuid.New(),
		Email:             "payer@example.com",
		BillingCustomerID: &cust,
	}
}

func grantEvent(a *accounts.Account) NormalizedEvent {
	exp := time.Now().Add(30 * 24 * time.Hour)
	return NormalizedEvent{
		Provider:  ledger.ProviderStripe,
		EventID:   "evt_1",
		EventType: "checkout.session.completed",
		AccountID: a.ID.String(),
		Op: entitlement.Operation{
			Kind:      entitlement.OpGrant,
			Plan:      entitlement.PlanStandard,
			Period:    entitlement.PeriodMonthly,
			ExpiresAt: &exp,
			Source:    entitlement.SourceStripe,
		},
		ProductID: "price_standard_monthly",
	}
}

func newTestProcessor(acc *fakeAccountStore, led *fakeLedger, casc *fakeCascader, m *fakeMetrics) *Processor {
	return NewProcessor(acc, led, casc, m, nil, slog.New(slog.DiscardHandler))
}

func TestProcessGrant(t *testing.T) {
	a := testAccount()
	acc := newFakeAccountStore(a)
	led := newFakeLedger()
	casc := &fakeCascader{}
	m := newFakeMetrics()
	p := newTestProcessor(acc, led, casc, m)

	res, err := p.Process(context.Background(), grantEvent(a))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	st, ok := acc.assigned[a.ID]
	require.True(t, ok)
	assert.Equal(t, entitlement.PlanStandard, st.Plan)
	assert.Equal(t, entitlement.StatusActive, st.Status)

	require.Len(t, led.events, 1)
	assert.Equal(t, entitlement.PlanNone, led.events[0].PreviousPlan)
	assert.Equal(t, entitlement.PlanStandard, led.events[0].NewPlan)

	require.Len(t, casc.calls, 1)
	assert.Equal(t, 1, m.events["stripe/processed"])
}

func TestProcessDuplicateEventID(t *testing.T) {
	a := testAccount()
	acc := newFakeAccountStore(a)
	led := newFakeLedger()
	m := newFakeMetrics()
	p := newTestProcessor(acc, led, &fakeCascader{}, m)

	ev := grantEvent(a)
	_, err := p.Process(context.Background(), ev)
	require.NoError(t, err)

	res, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Len(t, led.events, 1, "no second ledger row")
	assert.Equal(t, 1, m.events["stripe/duplicate"])
}

func TestProcessUnresolvableAccountAcked(t *testing.T) {
	acc := newFakeAccountStore()
	m := newFakeMetrics()
	p := newTestProcessor(acc, newFakeLedger(), &fakeCascader{}, m)

	ev := grantEvent(testAccount())
	ev.AccountID = "not-a-uuid"
	ev.CustomerID = "cus_unknown"

	res, err := p.Process(context.Background(), ev)
	require.NoError(t, err, "unresolvable accounts are acknowledged, not retried")
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, m.events["stripe/skipped"])
}

func TestProcessCustomerIDFallback(t *testing.T) {
	a := testAccount()
	acc := newFakeAccountStore(a)
	p := newTestProcessor(acc, newFakeLedger(), &fakeCascader{}, newFakeMetrics())

	ev := grantEvent(a)
	ev.AccountID = ""
	ev.CustomerID = *a.BillingCustomerID

	res, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	_, assigned := acc.assigned[a.ID]
	assert.True(t, assigned)
}

func TestProcessAccountLookupErrorNotAcked(t *testing.T) {
	acc := newFakeAccountStore(testAccount())
	acc.getErr = errors.New("db down")
	p := newTestProcessor(acc, newFakeLedger(), &fakeCascader{}, newFakeMetrics())

	_, err := p.Process(context.Background(), grantEvent(testAccount()))
	assert.Error(t, err, "infra failure before the claim must surface for redelivery")
}

func TestProcessClaimErrorNotAcked(t *testing.T) {
	a := testAccount()
	led := newFakeLedger()
	led.claimErr = errors.New("insert failed")
	p := newTestProcessor(newFakeAccountStore(a), led, &fakeCascader{}, newFakeMetrics())

	_, err := p.Process(context.Background(), grantEvent(a))
	assert.Error(t, err, "fail-closed claim errors surface for redelivery")
}

func TestProcessWriteFailureStillAcked(t *testing.T) {
	a := testAccount()
	acc := newFakeAccountStore(a)
	acc.assignErr = errors.New("write failed")
	led := newFakeLedger()
	m := newFakeMetrics()
	p := newTestProcessor(acc, led, &fakeCascader{}, m)

	res, err := p.Process(context.Background(), grantEvent(a))
	require.NoError(t, err, "the claim is durable, the webhook is acked")
	assert.True(t, res.WriteFailed)
	assert.Len(t, led.events, 1)
	assert.Equal(t, 1, m.events["stripe/write_failed"])
}

// A status-only operation on a never-subscribed account leaves the
// in-memory plan at its zero value on both sides of the transition; the
// audit row must still carry the canonical none, never an empty string.
func TestProcessLedgerRowCanonicalizesEmptyPlans(t *testing.T) {
	a := testAccount()
	acc := newFakeAccountStore(a)
	led := newFakeLedger()
	p := newTestProcessor(acc, led, &fakeCascader{}, newFakeMetrics())

	ev := grantEvent(a)
	ev.Op = entitlement.Operation{Kind: entitlement.OpBillingIssue, Source: entitlement.SourceStripe}
	ev.ProductID = ""

	_, err := p.Process(context.Background(), ev)
	require.NoError(t, err)

	require.Len(t, led.events, 1)
	assert.Equal(t, entitlement.PlanNone, led.events[0].PreviousPlan)
	assert.Equal(t, entitlement.PlanNone, led.events[0].NewPlan)
}

func TestProcessCascadeFailureWithoutMetrics(t *testing.T) {
	a := testAccount()
	casc := &fakeCascader{err: errors.New("cascade down")}
	p := NewProcessor(newFakeAccountStore(a), newFakeLedger(), casc, nil, nil, slog.New(slog.DiscardHandler))

	res, err := p.Process(context.Background(), grantEvent(a))
	require.NoError(t, err, "optional metrics must not turn a cascade failure into a panic")
	assert.Equal(t, Result{}, res)
}

func TestProcessCascadeFailureStillAcked(t *testing.T) {
	a := testAccount()
	casc := &fakeCascader{err: errors.New("cascade down")}
	m := newFakeMetrics()
	p := newTestProcessor(newFakeAccountStore(a), newFakeLedger(), casc, m)

	res, err := p.Process(context.Background(), grantEvent(a))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 1, m.cascades)
}

func TestProcessPersistsCustomerID(t *testing.T) {
	a := testAccount()
	a.BillingCustomerID = nil
	acc := newFakeAccountStore(a)
	p := newTestProcessor(acc, newFakeLedger(), &fakeCascader{}, newFakeMetrics())

	ev := grantEvent(a)
	ev.CustomerID = "cus_new"
	ev.PersistCustomerID = true

	_, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "cus_new", acc.customerOf[a.ID])
}

func TestProcessUnknownProductStillClaims(t *testing.T) {
	a := testAccount()
	acc := newFakeAccountStore(a)
	led := newFakeLedger()
	m := newFakeMetrics()
	p := newTestProcessor(acc, led, &fakeCascader{}, m)

	ev := grantEvent(a)
	ev.ProductID = "price_mystery"
	ev.Op.Plan = entitlement.PlanUnknown
	ev.Op.Period = entitlement.PeriodUnknown

	res, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Len(t, led.events, 1, "unknown products are still claimed and audited")
	assert.Equal(t, 1, m.events["stripe/unknown_product"])
	assert.Equal(t, entitlement.PlanUnknown, acc.assigned[a.ID].Plan)
}

func TestProductTableResolve(t *testing.T) {
	table := ProductTable{
		"price_standard_monthly": {Plan: entitlement.PlanStandard, Period: entitlement.PeriodMonthly},
	}

	ref := table.Resolve("price_standard_monthly")
	assert.Equal(t, entitlement.PlanStandard, ref.Plan)

	unknown := table.Resolve("price_other")
	assert.Equal(t, entitlement.PlanUnknown, unknown.Plan)
	assert.Equal(t, entitlement.PeriodUnknown, unknown.Period)
}
