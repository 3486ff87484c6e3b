package stripeprovider

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/pairlingo/entitlements/internal/billing"
)

const webhookBodyLimit = 1 << 20 // 1MiB

// Handler is the Stripe webhook endpoint. Signature verification over
// the raw, unparsed body is the authentication mechanism; nothing is
// claimed or mutated before it passes.
type Handler struct {
	secret    string
	normalize *Normalizer
	processor *billing.Processor
	log       *slog.Logger
}

func NewHandler(secret string, normalize *Normalizer, processor *billing.Processor, log *slog.Logger) *Handler {
	return &Handler{secret: secret, normalize: normalize, processor: processor, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		billing.WriteJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if h.secret == "" {
		h.log.Error("stripe webhook secret is not configured")
		billing.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "webhook not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		billing.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		billing.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid signature"})
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.log.Warn("stripe signature verification failed", "err", err)
		billing.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid signature"})
		return
	}

	ev, handled, err := h.normalize.Normalize(r.Context(), &event)
	if err != nil {
		// Pre-claim failure (malformed payload or a subscription lookup
		// error); a non-2xx makes Stripe redeliver.
		h.log.Error("stripe event normalization failed", "event_id", event.ID, "type", event.Type, "err", err)
		billing.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed event payload"})
		return
	}
	if !handled {
		h.log.Info("stripe event ignored", "event_id", event.ID, "type", event.Type)
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
