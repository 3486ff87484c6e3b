package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pairlingo/entitlements/internal/domain/notifications"
	"github.com/pairlingo/entitlements/internal/domain/partner"
	"github.com/pairlingo/entitlements/internal/domain/quota"
)

// deleteConfirmation must be sent verbatim with an account deletion
// request so a stray API call cannot wipe an account.
const deleteConfirmation = "DELETE MY ACCOUNT"

type NotificationLister interface {
	ListUnread(ctx context.Context, accountID uuid.UUID) ([]notifications.Notification, error)
}

type AccountHandlers struct {
	accounts AccountGetter
	partners *partner.Service
	quotas   *quota.Service
	notes    NotificationLister
	log      *slog.Logger
}

func NewAccountHandlers(accounts AccountGetter, partners *partner.Service, quotas *quota.Service, notes NotificationLister, log *slog.Logger) *AccountHandlers {
	return &AccountHandlers{accounts: accounts, partners: partners, quotas: quotas, notes: notes, log: log}
}

func (h *AccountHandlers) Subscription(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	a, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		h.log.Error("subscription status: load account", "account_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	var expires *time.Time
	if a.Subscription.ExpiresAt != nil {
		t := a.Subscription.ExpiresAt.UTC()
		expires = &t
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":      a.Subscription.Plan,
		"status":    a.Subscription.Status,
		"period":    a.Subscription.Period,
		"expiresAt": expires,
		"source":    a.Subscription.Source,
		"entitled":  a.Subscription.Entitled(),
		"linked":    a.LinkedUserID != nil,
	})
}

func (h *AccountHandlers) Notifications(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	list, err := h.notes.ListUnread(r.Context(), id)
	if err != nil {
		h.log.Error("list notifications", "account_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]map[string]any, 0, len(list))
	for _, n := range list {
		out = append(out, map[string]any{
			"id":        n.ID,
			"type":      n.Type,
			"title":     n.Title,
			"message":   n.Message,
			"createdAt": n.CreatedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (h *AccountHandlers) GenerateInvite(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	tok, err := h.partners.GenerateInvite(r.Context(), id)
	if err != nil {
		h.writePartnerError(w, err, "generate invite", id)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     tok.Token,
		"expiresAt": tok.ExpiresAt.UTC(),
	})
}

func (h *AccountHandlers) CompleteInvite(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	inviter, err := h.partners.CompleteInvite(r.Context(), id, req.Token)
	if err != nil {
		h.writePartnerError(w, err, "complete invite", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"linked":      true,
		"partnerId":   inviter.ID,
		"partnerName": inviter.FullName,
	})
}

func (h *AccountHandlers) Delink(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	wasPayer, err := h.partners.Delink(r.Context(), id)
	if err != nil {
		h.writePartnerError(w, err, "delink", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"delinked": true,
		"wasPayer": wasPayer,
	})
}

func (h *AccountHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req struct {
		Confirmation string `json:"confirmation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Confirmation != deleteConfirmation {
		writeError(w, http.StatusBadRequest, "confirmation phrase mismatch")
		return
	}

	if err := h.partners.DeleteAccount(r.Context(), id); err != nil {
		h.writePartnerError(w, err, "delete account", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *AccountHandlers) writePartnerError(w http.ResponseWriter, err error, op string, id uuid.UUID) {
	switch {
	case errors.Is(err, partner.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, partner.ErrInvalidToken):
		writeError(w, http.StatusNotFound, "invite not found")
	case errors.Is(err, partner.ErrTokenExpired):
		writeError(w, http.StatusGone, "invite expired")
	case errors.Is(err, partner.ErrTokenUsed):
		writeError(w, http.StatusConflict, "invite already used")
	case errors.Is(err, partner.ErrAlreadyLinked),
		errors.Is(err, partner.ErrInviterLinked),
		errors.Is(err, partner.ErrNoPartner):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, partner.ErrNotOwner),
		errors.Is(err, partner.ErrSelfInvite):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		h.log.Error(op, "account_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
