package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/repository"
	"github.com/templui/linkpage/internal/storage"
	"github.com/templui/linkpage/internal/validation"
)

// ExtendForever passed as months grants a subscription that never lapses.
const ExtendForever = -1

// ModerationEngine is the staff-only surface: bulk field edits and point
// actions on other accounts. Acting on oneself is a no-op.
type ModerationEngine struct {
	accountRepository    repository.AccountRepository
	credentialRepository repository.CredentialRepository
	lifecycle            *LifecycleStateMachine
	auditService         *AuditService
	editor               *fieldEditor
	remover              *accountRemover
	now                  func() time.Time
}

func NewModerationEngine(
	accountRepository repository.AccountRepository,
	credentialRepository repository.CredentialRepository,
	lifecycle *LifecycleStateMachine,
	auditService *AuditService,
	billingService *BillingService,
	emailService *EmailService,
	store storage.Storage,
) *ModerationEngine {
	m := &ModerationEngine{
		accountRepository:    accountRepository,
		credentialRepository: credentialRepository,
		lifecycle:            lifecycle,
		auditService:         auditService,
		now:                  time.Now,
	}
	m.editor = &fieldEditor{
		accountRepository:    accountRepository,
		credentialRepository: credentialRepository,
		billingService:       billingService,
		now:                  func() time.Time { return m.now() },
	}
	m.remover = &accountRemover{
		lifecycle:            lifecycle,
		credentialRepository: credentialRepository,
		billingService:       billingService,
		emailService:         emailService,
		storage:              store,
	}
	return m
}

// target loads the account staff wants to act on. proceed is false when
// actor and target are the same account.
func (m *ModerationEngine) target(ctx context.Context, actor *model.Account, username string) (*model.Account, bool, error) {
	err := CheckStaff(actor)
	if err != nil {
		return nil, false, err
	}

	username = validation.NormalizeUsername(username)
	if username == actor.Username {
		slog.Info("ignoring staff action on own account", "username", username)
		return nil, false, nil
	}

	target, err := m.accountRepository.ByUsername(ctx, username)
	if err != nil {
		return nil, false, mapStoreError(err)
	}
	return target, true, nil
}

// Lookup returns any account with its credential, shadows and suspended
// accounts included.
func (m *ModerationEngine) Lookup(ctx context.Context, actor *model.Account, username string) (*model.Account, *model.Credential, error) {
	err := CheckStaff(actor)
	if err != nil {
		return nil, nil, err
	}

	account, err := m.accountRepository.ByUsername(ctx, validation.NormalizeUsername(username))
	if err != nil {
		return nil, nil, mapStoreError(err)
	}
	credential, err := m.credentialRepository.ByUsername(ctx, account.Username)
	if err != nil {
		return nil, nil, mapStoreError(err)
	}
	return account, credential, nil
}

// ApplyEdit validates every edit, then writes the fields whose value changed.
// A username change is written last. The returned names are the fields written.
func (m *ModerationEngine) ApplyEdit(ctx context.Context, actor *model.Account, username string, edits map[string]string) ([]string, error) {
	target, proceed, err := m.target(ctx, actor, username)
	if err != nil || !proceed {
		return nil, err
	}

	credential, err := m.credentialRepository.ByUsername(ctx, target.Username)
	if err != nil {
		return nil, mapStoreError(err)
	}

	planned, err := m.editor.plan(target, credential, edits, false)
	if err != nil {
		return nil, err
	}
	if len(planned) == 0 {
		return nil, nil
	}

	original := target.Username
	applied, err := m.editor.apply(ctx, target, planned)
	if len(applied) > 0 {
		m.auditService.Record(ctx, fmt.Sprintf("%s edited %s: %s", actor.Username, original, describeEdits(planned[:len(applied)])))
	}
	return applied, err
}

// Perform runs a lifecycle action against another account.
func (m *ModerationEngine) Perform(ctx context.Context, actor *model.Account, username string, action Action) error {
	if _, ok := transitions[action]; !ok || action == ActionConsumeVerification {
		return invalid(fmt.Errorf("unknown action %q", action))
	}

	target, proceed, err := m.target(ctx, actor, username)
	if err != nil || !proceed {
		return err
	}

	if action == ActionDelete {
		return m.remover.remove(ctx, actor.Username, target)
	}
	return m.lifecycle.Apply(ctx, actor.Username, target, action)
}

func (m *ModerationEngine) Verify(ctx context.Context, actor *model.Account, username string) error {
	return m.Perform(ctx, actor, username, ActionVerify)
}

func (m *ModerationEngine) Unverify(ctx context.Context, actor *model.Account, username string) error {
	return m.Perform(ctx, actor, username, ActionUnverify)
}

func (m *ModerationEngine) Promote(ctx context.Context, actor *model.Account, username string) error {
	return m.Perform(ctx, actor, username, ActionPromote)
}

func (m *ModerationEngine) Demote(ctx context.Context, actor *model.Account, username string) error {
	return m.Perform(ctx, actor, username, ActionDemote)
}

func (m *ModerationEngine) Suspend(ctx context.Context, actor *model.Account, username string) error {
	return m.Perform(ctx, actor, username, ActionSuspend)
}

func (m *ModerationEngine) Unsuspend(ctx context.Context, actor *model.Account, username string) error {
	return m.Perform(ctx, actor, username, ActionUnsuspend)
}

func (m *ModerationEngine) Delete(ctx context.Context, actor *model.Account, username string) error {
	return m.Perform(ctx, actor, username, ActionDelete)
}

// ExtendSubscription adds months to the later of the current expiry and
// today. ExtendForever grants the sentinel; a forever subscription is never
// shortened.
func (m *ModerationEngine) ExtendSubscription(ctx context.Context, actor *model.Account, username string, months int) error {
	if months <= 0 && months != ExtendForever {
		return ErrInvalidMonths
	}

	target, proceed, err := m.target(ctx, actor, username)
	if err != nil || !proceed {
		return err
	}

	old := target.SubscriptionExpiry
	if old.IsForever() {
		slog.Info("subscription already forever", "username", target.Username)
		return nil
	}

	next := model.ExpiryForever
	if months != ExtendForever {
		base, _ := model.ExpiryFromTime(m.now()).Time()
		if current, ok := old.Time(); ok && current.After(base) {
			base = current
		}
		next = model.ExpiryFromTime(base.AddDate(0, months, 0))
	}

	err = m.accountRepository.CompareAndSetExpiry(ctx, target.Username, old, next)
	if err != nil {
		return mapStoreError(err)
	}
	target.Paid = true
	target.SubscriptionExpiry = next

	slog.Info("subscription extended", "username", target.Username, "from", old, "to", next)
	m.auditService.Record(ctx, fmt.Sprintf("%s extended subscription of %s to %s", actor.Username, target.Username, next))
	return nil
}

// CreateShadow reserves username as a placeholder that forwards visitors to
// redirectTo. Shadow accounts have no password and never sign in.
func (m *ModerationEngine) CreateShadow(ctx context.Context, actor *model.Account, username, redirectTo string) (*model.Account, error) {
	err := CheckStaff(actor)
	if err != nil {
		return nil, err
	}

	username = validation.NormalizeUsername(username)
	err = validation.ValidateUsername(username)
	if err != nil {
		return nil, invalid(err)
	}
	redirectTo = validation.NormalizeUsername(redirectTo)
	if redirectTo == username {
		return nil, invalid(errors.New("a shadow account cannot redirect to itself"))
	}

	target, err := m.accountRepository.ByUsername(ctx, redirectTo)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if target.IsShadow() {
		return nil, invalid(errors.New("redirect target is itself a shadow account"))
	}

	account := model.NewAccount(username, model.LevelShadow, m.now())
	account.DisplayName = target.Username
	credential := &model.Credential{
		Username: username,
		Email:    username + "@" + shadowEmailDomain,
	}

	err = m.accountRepository.Create(ctx, account, credential)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, wrapError(ErrUsernameTaken, err)
	}
	if err != nil {
		return nil, mapStoreError(err)
	}

	slog.Info("shadow account created", "username", username, "redirect_to", target.Username)
	m.auditService.Record(ctx, fmt.Sprintf("%s created shadow account %s -> %s", actor.Username, username, target.Username))
	return account, nil
}
