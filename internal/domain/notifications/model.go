package notifications

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypePartnerDeletedAccount = "partner_deleted_account"
	TypePartnerDelinked       = "partner_delinked"
)

type Notification struct {
	ID        int64
	AccountID uuid.UUID
	Type      string
	Title     string
	Message   string
	Read      bool
	CreatedAt time.Time
}
