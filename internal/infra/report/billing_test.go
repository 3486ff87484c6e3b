package report

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlingo/entitlements/internal/domain/entitlement"
	"github.com/pairlingo/entitlements/internal/domain/ledger"
)

func TestBillingEventsWorkbook(t *testing.T) {
	accountID := uuid.New()
	events := []ledger.Event{
		{
			ID:              1,
			Provider:        ledger.ProviderStripe,
			ProviderEventID: "evt_1",
			AccountID:       accountID,
			Kind:            entitlement.OpGrant,
			PreviousPlan:    entitlement.PlanNone,
			NewPlan:         entitlement.PlanStandard,
			Metadata:        map[string]any{"price_id": "price_standard_monthly"},
			ReceivedAt:      time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			ID:              2,
			Provider:        ledger.ProviderRevenueCat,
			ProviderEventID: "rc_2",
			Kind:            entitlement.OpExpire,
			ReceivedAt:      time.Date(2026, 9, 2, 8, 0, 0, 0, time.UTC),
		},
	}

	f, err := BillingEvents(events)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per event")

	assert.Equal(t, "received_at", rows[0][0])
	assert.Equal(t, "provider", rows[0][1])

	assert.Equal(t, "2026-09-01 10:30:00", rows[1][0])
	assert.Equal(t, "stripe", rows[1][1])
	assert.Equal(t, "evt_1", rows[1][2])
	assert.Equal(t, accountID.String(), rows[1][3])
	assert.Equal(t, "grant", rows[1][4])
	assert.Equal(t, "none", rows[1][5])
	assert.Equal(t, "standard", rows[1][6])
	assert.Contains(t, rows[1][7], "price_standard_monthly")

	assert.Equal(t, "revenuecat", rows[2][1])
	assert.Equal(t, "", rows[2][3], "events without a resolved account leave the column empty")
}

func TestBillingEventsEmpty(t *testing.T) {
	f, err := BillingEvents(nil)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}
