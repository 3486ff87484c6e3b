package partner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pairlingo/entitlements/internal/domain/accounts"
	"github.com/pairlingo/entitlements/internal/domain/entitlement"
	"github.com/pairlingo/entitlements/internal/domain/notifications"
)

var (
	ErrAccountNotFound = errors.New("partner: account not found")
	ErrAlreadyLinked   = errors.New("partner: account already has a linked partner")
	ErrNotOwner        = errors.New("partner: only subscription owners can invite")
	ErrInvalidToken    = errors.New("partner: invalid invite token")
	ErrTokenUsed       = errors.New("partner: invite token already used")
	ErrTokenExpired    = errors.New("partner: invite token expired")
	ErrSelfInvite      = errors.New("partner: cannot accept own invite")
	ErrInviterLinked   = errors.New("partner: inviter already has a linked partner")
	ErrNoPartner       = errors.New("partner: no partner to unlink")
)

const inviteTTL = 7 * 24 * time.Hour

// AccountStore is the slice of account storage the linking and
// reconciliation flows need.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
	SetLink(ctx context.Context, id, partnerID uuid.UUID) error
	ClearLink(ctx context.Context, id uuid.UUID) error
	SetGrant(ctx context.Context, id, grantorID uuid.UUID) error
	AssignSubscription(ctx context.Context, id uuid.UUID, st entitlement.SubscriptionState) error
	RevokeInherited(ctx context.Context, id uuid.UUID) error
	RestoreGrant(ctx context.Context, id, grantorID uuid.UUID, st entitlement.SubscriptionState) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type InviteStore interface {
	Create(ctx context.Context, token string, inviterID uuid.UUID, inviterName string, expiresAt time.Time) (*InviteToken, error)
	GetByToken(ctx context.Context, token string) (*InviteToken, error)
	Outstanding(ctx context.Context, inviterID uuid.UUID) (*InviteToken, error)
	MarkUsed(ctx context.Context, id int64, usedBy uuid.UUID) error
	ExpirePending(ctx context.Context, inviterIDs ...uuid.UUID) error
}

type Notifier interface {
	Insert(ctx context.Context, n notifications.Notification) error
}

type Alerter interface {
	Notify(text string)
}

type Service struct {
	accounts AccountStore
	invites  InviteStore
	notify   Notifier
	alert    Alerter
	log      *slog.Logger
	now      func() time.Time
}

func NewService(accounts AccountStore, invites InviteStore, notify Notifier, alert Alerter, log *slog.Logger) *Service {
	return &Service{
		accounts: accounts,
		invites:  invites,
		notify:   notify,
		alert:    alert,
		log:      log,
		now:      time.Now,
	}
}

// GenerateInvite mints (or reuses) a single-use link token. Only
// subscription owners invite: an account with inherited access would
// create chained inheritance, which is not modeled.
func (s *Service) GenerateInvite(ctx context.Context, inviterID uuid.UUID) (*InviteToken, error) {
	inviter, err := s.accounts.GetByID(ctx, inviterID)
	if err != nil {
		return nil, fmt.Errorf("load inviter: %w", err)
	}
	if inviter == nil {
		return nil, ErrAccountNotFound
	}
	if inviter.LinkedUserID != nil {
		return nil, ErrAlreadyLinked
	}
	if inviter.GrantedBy != nil {
		return nil, ErrNotOwner
	}

	if existing, err := s.invites.Outstanding(ctx, inviterID); err == nil && existing != nil {
		return existing, nil
	} else if err != nil {
		return nil, fmt.Errorf("check outstanding invite: %w", err)
	}

	token := uuid.NewString()
	t, err := s.invites.Create(ctx, token, inviterID, inviter.FullName, s.now().Add(inviteTTL))
	if err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}
	return t, nil
}

// CompleteInvite links the acceptor to the inviter and, when the inviter
// carries an active subscription, grants inherited access.
//
// Contract with the entitlement engine: granted_by is set only after
// verifying the acceptor has no active independent subscription. The
// cascade trusts that invariant; it is enforced here, at the link site.
//
// The two profile writes commit independently; failure of the second
// triggers a compensating rollback of the first, not a transaction.
func (s *Service) CompleteInvite(ctx context.Context, acceptorID uuid.UUID, token string) (*accounts.Account, error) {
	t, err := s.invites.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load invite: %w", err)
	}
	if t == nil {
		return nil, ErrInvalidToken
	}
	if t.Used() {
		return nil, ErrTokenUsed
	}
	if t.Expired(s.now()) {
		return nil, ErrTokenExpired
	}
	if t.InviterID == acceptorID {
		return nil, ErrSelfInvite
	}

	inviter, err := s.accounts.GetByID(ctx, t.InviterID)
	if err != nil {
		return nil, fmt.Errorf("load inviter: %w", err)
	}
	if inviter == nil {
		return nil, ErrAccountNotFound
	}
	if inviter.LinkedUserID != nil {
		// Burn the token so it cannot be retried against a taken slot.
		if err := s.invites.MarkUsed(ctx, t.ID, acceptorID); err != nil {
			s.log.Error("failed to burn invite token", "token_id", t.ID, "err", err)
		}
		return nil, ErrInviterLinked
	}

	acceptor, err := s.accounts.GetByID(ctx, acceptorID)
	if err != nil {
		return nil, fmt.Errorf("load acceptor: %w", err)
	}
	if acceptor == nil {
		return nil, ErrAccountNotFound
	}
	if acceptor.LinkedUserID != nil {
		return nil, ErrAlreadyLinked
	}

	grantEligible := inviter.Subscription.Status == entitlement.StatusActive &&
		!independentActive(acceptor)

	// Write 1: acceptor side.
	if err := s.accounts.SetLink(ctx, acceptorID, inviter.ID); err != nil {
		return nil, fmt.Errorf("link acceptor: %w", err)
	}
	if grantEligible {
		if err := s.accounts.SetGrant(ctx, acceptorID, inviter.ID); err != nil {
			if rbErr := s.accounts.ClearLink(ctx, acceptorID); rbErr != nil {
				s.log.Error("compensation failed after grant error", "account_id", acceptorID, "err", rbErr)
			}
			return nil, fmt.Errorf("grant acceptor: %w", err)
		}
		mirrored := inviter.Subscription
		mirrored.Source = entitlement.SourceInherited
		if err := s.accounts.AssignSubscription(ctx, acceptorID, mirrored); err != nil {
			s.log.Error("failed to mirror subscription onto new dependent", "account_id", acceptorID, "err", err)
		}
	}

	// Write 2: inviter side. On failure, roll write 1 back.
	if err := s.accounts.SetLink(ctx, inviter.ID, acceptorID); err != nil {
		if rbErr := s.accounts.ClearLink(ctx, acceptorID); rbErr != nil {
			s.log.Error("compensation failed: acceptor link not cleared", "account_id", acceptorID, "err", rbErr)
		}
		if grantEligible {
			if rbErr := s.accounts.RevokeInherited(ctx, acceptorID); rbErr != nil {
				s.log.Error("compensation failed: acceptor grant not revoked", "account_id", acceptorID, "err", rbErr)
				if s.alert != nil {
					s.alert.Notify(fmt.Sprintf("partner link compensation failed for account %s; manual cleanup needed", acceptorID))
				}
			}
		}
		return nil, fmt.Errorf("link inviter: %w", err)
	}

	if err := s.invites.MarkUsed(ctx, t.ID, acceptorID); err != nil {
		s.log.Error("failed to mark invite used", "token_id", t.ID, "err", err)
	}

	s.log.Info("partner accounts linked",
		"inviter_id", inviter.ID,
		"acceptor_id", acceptorID,
		"granted", grantEligible,
	)
	return inviter, nil
}

// Delink dissolves the mutual link. Whichever side holds inherited
// access loses it; the payer's own entitlement is untouched.
func (s *Service) Delink(ctx context.Context, initiatorID uuid.UUID) (wasPayer bool, err error) {
	initiator, err := s.accounts.GetByID(ctx, initiatorID)
	if err != nil {
		return false, fmt.Errorf("load initiator: %w", err)
	}
	if initiator == nil {
		return false, ErrAccountNotFound
	}
	if initiator.LinkedUserID == nil {
		return false, ErrNoPartner
	}
	partnerID := *initiator.LinkedUserID
	wasPayer = initiator.IsPayer()

	if err := s.accounts.ClearLink(ctx, initiatorID); err != nil {
		return wasPayer, fmt.Errorf("clear initiator link: %w", err)
	}
	if err := s.accounts.ClearLink(ctx, partnerID); err != nil {
		return wasPayer, fmt.Errorf("clear partner link: %w", err)
	}

	dependentID := initiatorID
	if wasPayer {
		dependentID = partnerID
	}
	if err := s.accounts.RevokeInherited(ctx, dependentID); err != nil {
		s.log.Error("failed to revoke inherited access on delink", "account_id", dependentID, "err", err)
	}

	if err := s.invites.ExpirePending(ctx, initiatorID, partnerID); err != nil {
		s.log.Error("failed to expire pending invites", "err", err)
	}

	if wasPayer && s.notify != nil {
		n := notifications.Notification{
			AccountID: partnerID,
			Type:      notifications.TypePartnerDelinked,
			Title:     "Partner unlinked",
			Message:   "Your partner has unlinked your accounts. You'll need your own subscription to continue.",
		}
		if err := s.notify.Insert(ctx, n); err != nil {
			s.log.Error("failed to notify delinked partner", "account_id", partnerID, "err", err)
		}
	}

	s.log.Info("partner accounts delinked",
		"initiator_id", initiatorID,
		"partner_id", partnerID,
		"was_payer", wasPayer,
	)
	return wasPayer, nil
}

// DeleteAccount reconciles the partner graph and then removes the
// account row. Reconciliation must run first so the grantor/dependent
// pair is still readable.
func (s *Service) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if a == nil {
		return ErrAccountNotFound
	}

	if a.LinkedUserID != nil {
		if err := s.reconcileDeletion(ctx, a); err != nil {
			return err
		}
	}

	if err := s.accounts.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.log.Info("account deleted", "account_id", id)
	return nil
}

// reconcileDeletion restores graph consistency before a linked account
// disappears. Grantor deletion: revoke the dependent's inherited state,
// notify them, clear both links. Dependent deletion: clear the links
// only. Two sequential, independently committed writes with a
// saga-style compensation, not a transaction.
func (s *Service) reconcileDeletion(ctx context.Context, a *accounts.Account) error {
	partnerID := *a.LinkedUserID

	if a.IsPayer() {
		dep, err := s.accounts.GetByID(ctx, partnerID)
		if err != nil {
			return fmt.Errorf("load dependent: %w", err)
		}

		var prior *entitlement.SubscriptionState
		if dep != nil && dep.GrantedBy != nil && *dep.GrantedBy == a.ID {
			st := dep.Subscription
			prior = &st
			// Write 1: the dependent loses inherited access.
			if err := s.accounts.RevokeInherited(ctx, partnerID); err != nil {
				return fmt.Errorf("revoke dependent access: %w", err)
			}
		}

		if s.notify != nil {
			n := notifications.Notification{
				AccountID: partnerID,
				Type:      notifications.TypePartnerDeletedAccount,
				Title:     "Partner Account Deleted",
				Message:   "Your learning partner has deleted their account. Your accounts are no longer linked.",
			}
			if err := s.notify.Insert(ctx, n); err != nil {
				s.log.Error("failed to notify dependent of deletion", "account_id", partnerID, "err", err)
			}
		}

		// Write 2: dissolve the mutual link. On failure, put the
		// dependent's state back so the pair stays consistent.
		if err := s.accounts.ClearLink(ctx, partnerID); err != nil {
			if prior != nil {
				if rbErr := s.accounts.RestoreGrant(ctx, partnerID, a.ID, *prior); rbErr != nil {
					s.log.Error("compensation failed: dependent state not restored", "account_id", partnerID, "err", rbErr)
					if s.alert != nil {
						s.alert.Notify(fmt.Sprintf("delete reconciliation compensation failed for account %s; manual cleanup needed", partnerID))
					}
				}
			}
			return fmt.Errorf("clear dependent link: %w", err)
		}
		return nil
	}

	// Dependent deletion: grantor's own entitlement is untouched.
	if err := s.accounts.ClearLink(ctx, partnerID); err != nil {
		return fmt.Errorf("clear grantor link: %w", err)
	}
	return nil
}

// independentActive reports whether the account carries its own paid
// subscription, as opposed to inherited or no access.
func independentActive(a *accounts.Account) bool {
	return a.GrantedBy == nil &&
		a.Subscription.Status == entitlement.StatusActive &&
		(a.Subscription.Plan == entitlement.PlanStandard || a.Subscription.Plan == entitlement.PlanUnlimited)
}
