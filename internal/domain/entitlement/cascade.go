package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ErrChainedInheritance means a grantor that is itself someone's dependent
// tried to cascade. Inheritance is single-level; this is asserted, not
// silently permitted.
var ErrChainedInheritance = errors.New("entitlement: chained inheritance")

// CascadeStore is the slice of account storage the cascade needs.
type CascadeStore interface {
	// FindDependentID returns the one account inheriting from grantorID,
	// first match by creation order.
	FindDependentID(ctx context.Context, grantorID uuid.UUID) (uuid.UUID, bool, error)
	AssignSubscription(ctx context.Context, accountID uuid.UUID, st SubscriptionState) error
}

type Alerter interface {
	Notify(text string)
}

// Cascader propagates a grantor's resulting subscription state to its one
// inherited dependent. One-directional: a dependent never cascades back.
type Cascader struct {
	store CascadeStore
	log   *slog.Logger
	alert Alerter
}

func NewCascader(store CascadeStore, log *slog.Logger, alert Alerter) *Cascader {
	return &Cascader{store: store, log: log, alert: alert}
}

// Apply mirrors st onto the dependent of grantorID, if one exists.
// grantorGrantedBy is the grantor's own granted_by reference; a non-nil
// value violates the single-level invariant and aborts the cascade.
func (c *Cascader) Apply(ctx context.Context, grantorID uuid.UUID, grantorGrantedBy *uuid.UUID, st SubscriptionState) error {
	if grantorGrantedBy != nil {
		c.log.Error("cascade refused: grantor is itself a dependent",
			"grantor_id", grantorID,
			"granted_by", *grantorGrantedBy,
		)
		if c.alert != nil {
			c.alert.Notify(fmt.Sprintf("entitlement invariant violation: account %s cascades while inheriting from %s", grantorID, *grantorGrantedBy))
		}
		return ErrChainedInheritance
	}

	depID, ok, err := c.store.FindDependentID(ctx, grantorID)
	if err != nil {
		return fmt.Errorf("find dependent: %w", err)
	}
	if !ok {
		return nil
	}

	mirrored := st
	mirrored.Source = SourceInherited
	if err := c.store.AssignSubscription(ctx, depID, mirrored); err != nil {
		return fmt.Errorf("assign dependent state: %w", err)
	}

	c.log.Info("cascaded subscription state to dependent",
		"grantor_id", grantorID,
		"dependent_id", depID,
		"plan", mirrored.Plan,
		"status", mirrored.Status,
	)
	return nil
}
