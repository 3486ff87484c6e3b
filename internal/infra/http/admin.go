package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/pairlingo/entitlements/internal/domain/ledger"
	"github.com/pairlingo/entitlements/internal/infra/report"
)

const defaultExportLimit = 1000

type EventLister interface {
	ListRecent(ctx context.Context, limit int) ([]ledger.Event, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]ledger.Event, error)
}

type AdminHandlers struct {
	events EventLister
	log    *slog.Logger
}

func NewAdminHandlers(events EventLister, log *slog.Logger) *AdminHandlers {
	return &AdminHandlers{events: events, log: log}
}

func (h *AdminHandlers) BillingEventsExport(w http.ResponseWriter, r *http.Request) {
	limit := defaultExportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var events []ledger.Event
	var err error
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		id, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid account id")
			return
		}
		events, err = h.events.ListByAccount(r.Context(), id, limit)
	} else {
		events, err = h.events.ListRecent(r.Context(), limit)
	}
	if err != nil {
		h.log.Error("billing export: list events", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	f, err := report.BillingEvents(events)
	if err != nil {
		h.log.Error("billing export: build workbook", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="billing-events.xlsx"`)
	if err := f.Write(w); err != nil {
		h.log.Error("billing export: write response", "err", err)
	}
}
