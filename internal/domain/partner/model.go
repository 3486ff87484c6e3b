package partner

import (
	"time"

	"github.com/google/uuid"
)

// InviteToken is a single-use link invitation created by a subscription
// owner for a prospective dependent.
type InviteToken struct {
	ID          int64
	Token       string
	InviterID   uuid.UUID
	InviterName string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
	UsedBy      *uuid.UUID
}

func (t *InviteToken) Expired(now time.Time) bool { return now.After(t.ExpiresAt) }
func (t *InviteToken) Used() bool                 { return t.UsedAt != nil }
