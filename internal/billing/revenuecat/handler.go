// Package revenuecat receives and normalizes RevenueCat webhook events
// for the mobile in-app-purchase side of the entitlement engine.
package revenuecat

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pairlingo/entitlements/internal/billing"
)

const webhookBodyLimit = 1 << 20 // 1MiB

// Handler is the RevenueCat webhook endpoint. Authentication is a
// static bearer shared secret configured in the RevenueCat dashboard;
// nothing is claimed or mutated before it matches.
type Handler struct {
	secret    string
	normalize *Normalizer
	processor *billing.Processor
	log       *slog.Logger
}

func NewHandler(secret string, normalize *Normalizer, processor *billing.Processor, log *slog.Logger) *Handler {
	return &Handler{secret: secret, normalize: normalize, processor: processor, log: log}
}

// webhookBody is the envelope RevenueCat posts: everything of interest
// sits under "event".
type webhookBody struct {
	Event *eventPayload `json:"event"`
}

type eventPayload struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	AppUserID      string `json:"app_user_id"`
	ProductID      string `json:"product_id"`
	ExpirationAtMs int64  `json:"expiration_at_ms"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		billing.WriteJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if h.secret == "" {
		h.log.Error("revenuecat webhook secret is not configured")
		billing.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "webhook not configured"})
		return
	}

	auth := r.Header.Get("Authorization")
	want := "Bearer " + h.secret
	if subtle.ConstantTimeCompare([]byte(auth), []byte(want)) != 1 {
		h.log.Warn("revenuecat webhook rejected: bad authorization header")
		billing.WriteJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		billing.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to read request body"})
		return
	}
	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		billing.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if body.Event == nil {
		billing.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "missing event data"})
		return
	}
	if strings.TrimSpace(body.Event.AppUserID) == "" {
		h.log.Error("revenuecat event missing app_user_id", "type", body.Event.Type)
		billing.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "missing user ID"})
		return
	}

	ev, handled := h.normalize.Normalize(body.Event)
	if !handled {
		h.log.Info("revenuecat event ignored", "event_id", ev.EventID, "type", body.Event.Type)
		billing.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	res, err := h.processor.Process(r.Context(), ev)
	if err != nil {
		billing.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "webhook processing failed"})
		return
	}
	if res.Duplicate {
		billing.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
		return
	}
	billing.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}

// syntheticEventID covers the rare payload without an event id; the
// timestamp keeps retries of distinct events apart while an exact
// redelivery of the same payload stays un-deduplicated, which only
// re-applies an idempotent assignment.
func syntheticEventID(now time.Time) string {
	return fmt.Sprintf("rc_%d", now.UnixMilli())
}
