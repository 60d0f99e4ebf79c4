package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/repository"
)

type Action string

const (
	ActionConsumeVerification Action = "consume_verification"
	ActionVerify              Action = "verify"
	ActionUnverify            Action = "unverify"
	ActionPromote             Action = "promote"
	ActionDemote              Action = "demote"
	ActionSuspend             Action = "suspend"
	ActionUnsuspend           Action = "unsuspend"
	ActionDelete              Action = "delete"
)

// transitionRule maps each legal source level of an action to its target.
// A non-nil subscription is written together with the level.
type transitionRule struct {
	next         map[model.VerificationLevel]model.VerificationLevel
	subscription *model.Subscription
	removes      bool
}

var (
	allLevels = []model.VerificationLevel{
		model.LevelAwaitingVerification,
		model.LevelShadow,
		model.LevelSuspended,
		model.LevelMember,
		model.LevelVerified,
		model.LevelStaff,
	}

	transitions = map[Action]transitionRule{
		ActionConsumeVerification: {next: levels{
			model.LevelAwaitingVerification: model.LevelMember,
		}},
		ActionVerify: {next: levels{
			model.LevelAwaitingVerification: model.LevelMember,
			model.LevelMember:               model.LevelVerified,
		}},
		ActionUnverify: {next: levels{
			model.LevelVerified: model.LevelMember,
		}},
		ActionPromote: {
			next: levels{
				model.LevelMember:   model.LevelStaff,
				model.LevelVerified: model.LevelStaff,
			},
			subscription: &model.Subscription{Paid: true, Expiry: model.ExpiryForever},
		},
		ActionDemote: {
			next: levels{
				model.LevelStaff: model.LevelMember,
			},
			subscription: &model.Subscription{Paid: false, Expiry: model.ExpiryNone},
		},
		ActionSuspend: {next: levels{
			model.LevelAwaitingVerification: model.LevelSuspended,
			model.LevelSuspended:            model.LevelSuspended,
			model.LevelMember:               model.LevelSuspended,
			model.LevelVerified:             model.LevelSuspended,
			model.LevelStaff:                model.LevelSuspended,
		}},
		ActionUnsuspend: {next: levels{
			model.LevelSuspended: model.LevelMember,
		}},
		ActionDelete: {removes: true, next: func() levels {
			all := levels{}
			for _, l := range allLevels {
				all[l] = l
			}
			return all
		}()},
	}
)

type levels = map[model.VerificationLevel]model.VerificationLevel

// LifecycleStateMachine owns every change to an account's verification level.
type LifecycleStateMachine struct {
	accountRepository repository.AccountRepository
	tokenService      *TokenService
	auditService      *AuditService
}

func NewLifecycleStateMachine(
	accountRepository repository.AccountRepository,
	tokenService *TokenService,
	auditService *AuditService,
) *LifecycleStateMachine {
	return &LifecycleStateMachine{
		accountRepository: accountRepository,
		tokenService:      tokenService,
		auditService:      auditService,
	}
}

// Can reports whether action is legal from level.
func (m *LifecycleStateMachine) Can(action Action, level model.VerificationLevel) bool {
	rule, ok := transitions[action]
	if !ok {
		return false
	}
	_, ok = rule.next[level]
	return ok
}

// Apply performs action on account as actor ("" for the account itself) and
// updates account in place. The write only lands if the level is unchanged
// since account was read.
func (m *LifecycleStateMachine) Apply(ctx context.Context, actor string, account *model.Account, action Action) error {
	rule, ok := transitions[action]
	if !ok {
		return fmt.Errorf("unknown lifecycle action %q", action)
	}
	from := account.VerificationLevel
	to, ok := rule.next[from]
	if !ok {
		return wrapError(ErrIllegalTransition, fmt.Errorf("%s from %s", action, from))
	}

	if rule.removes {
		err := m.accountRepository.Delete(ctx, account.Username)
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		m.audit(ctx, actor, account.Username, action, from, to)
		return nil
	}

	err := m.accountRepository.TransitionLevel(ctx, account.Username, from, to, rule.subscription)
	switch {
	case errors.Is(err, repository.ErrStaleWrite):
		return wrapError(ErrConcurrentChange, err)
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case err != nil:
		return fmt.Errorf("failed to %s account: %w", action, err)
	}

	account.VerificationLevel = to
	if rule.subscription != nil {
		account.Paid = rule.subscription.Paid
		account.SubscriptionExpiry = rule.subscription.Expiry
	}

	if from == model.LevelAwaitingVerification && to == model.LevelMember {
		err = m.tokenService.Revoke(ctx, model.TokenKindVerification, account.Username)
		if err != nil {
			slog.Warn("failed to revoke verification token", "error", err, "username", account.Username)
		}
	}

	m.audit(ctx, actor, account.Username, action, from, to)
	return nil
}

func (m *LifecycleStateMachine) audit(ctx context.Context, actor, username string, action Action, from, to model.VerificationLevel) {
	var msg string
	switch {
	case action == ActionDelete:
		msg = fmt.Sprintf("%s deleted account %s (%s)", actorName(actor), username, from)
	case actor == "":
		msg = fmt.Sprintf("%s: %s (%s -> %s)", username, action, from, to)
	default:
		msg = fmt.Sprintf("%s: %s %s (%s -> %s)", actor, action, username, from, to)
	}
	m.auditService.Record(ctx, msg)
}

func actorName(actor string) string {
	if actor == "" {
		return "account owner"
	}
	return actor
}

// CheckAuthenticated is the per-request guard. Suspension is a hard denial;
// shadow accounts never authenticate.
func CheckAuthenticated(account *model.Account) error {
	if account == nil {
		return ErrNotAuthenticated
	}
	switch account.VerificationLevel {
	case model.LevelSuspended:
		return ErrAccountSuspended
	case model.LevelShadow:
		return ErrNotAuthenticated
	}
	return nil
}

// CheckSelfService additionally blocks accounts that have not verified their email.
func CheckSelfService(account *model.Account) error {
	err := CheckAuthenticated(account)
	if err != nil {
		return err
	}
	if account.IsAwaitingVerification() {
		return ErrNotVerified
	}
	return nil
}

// CheckStaff guards privileged routes.
func CheckStaff(account *model.Account) error {
	err := CheckAuthenticated(account)
	if err != nil {
		return err
	}
	if !account.IsStaff() {
		return ErrStaffOnly
	}
	return nil
}
