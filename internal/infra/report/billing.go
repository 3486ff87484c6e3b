package report

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/pairlingo/entitlements/internal/domain/ledger"
)

// BillingEvents renders the processed webhook ledger as an XLSX
// workbook for support and finance audits. The caller owns closing the
// returned file.
func BillingEvents(events []ledger.Event) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	header := []interface{}{
		"received_at",
		"provider",
		"provider_event_id",
		"account_id",
		"event_kind",
		"previous_plan",
		"new_plan",
		"metadata",
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("report: write header: %w", err)
	}

	row := 2
	for _, ev := range events {
		accountID := ""
		if ev.AccountID != uuid.Nil {
			accountID = ev.AccountID.String()
		}
		meta := ""
		if len(ev.Metadata) > 0 {
			b, err := json.Marshal(ev.Metadata)
			if err == nil {
				meta = string(b)
			}
		}
		excelRow := []interface{}{
			ev.ReceivedAt.UTC().Format("2006-01-02 15:04:05"),
			ev.Provider,
			ev.ProviderEventID,
			accountID,
			ev.Kind,
			ev.PreviousPlan,
			ev.NewPlan,
			meta,
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return nil, fmt.Errorf("report: cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &excelRow); err != nil {
			return nil, fmt.Errorf("report: write row: %w", err)
		}
		row++
	}

	return f, nil
}
