package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/repository"
	"github.com/templui/linkpage/internal/storage"
	"github.com/templui/linkpage/internal/validation"
)

const DefaultUsernameCooldown = 7 * 24 * time.Hour

// AccountService implements what an account does to itself: registration,
// sign-in, email verification, password reset and profile changes.
type AccountService struct {
	accountRepository    repository.AccountRepository
	credentialRepository repository.CredentialRepository
	tokenService         *TokenService
	lifecycle            *LifecycleStateMachine
	emailService         *EmailService
	billingService       *BillingService
	auditService         *AuditService
	storage              storage.Storage
	editor               *fieldEditor
	remover              *accountRemover
	usernameCooldown     time.Duration
	now                  func() time.Time
}

func NewAccountService(
	accountRepository repository.AccountRepository,
	credentialRepository repository.CredentialRepository,
	tokenService *TokenService,
	lifecycle *LifecycleStateMachine,
	emailService *EmailService,
	billingService *BillingService,
	auditService *AuditService,
	store storage.Storage,
	usernameCooldown time.Duration,
) *AccountService {
	if usernameCooldown <= 0 {
		usernameCooldown = DefaultUsernameCooldown
	}
	s := &AccountService{
		accountRepository:    accountRepository,
		credentialRepository: credentialRepository,
		tokenService:         tokenService,
		lifecycle:            lifecycle,
		emailService:         emailService,
		billingService:       billingService,
		auditService:         auditService,
		storage:              store,
		usernameCooldown:     usernameCooldown,
		now:                  time.Now,
	}
	s.editor = &fieldEditor{
		accountRepository:    accountRepository,
		credentialRepository: credentialRepository,
		billingService:       billingService,
		now:                  func() time.Time { return s.now() },
	}
	s.remover = &accountRemover{
		lifecycle:            lifecycle,
		credentialRepository: credentialRepository,
		billingService:       billingService,
		emailService:         emailService,
		storage:              store,
	}
	return s
}

func hashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func comparePassword(password, hash string) error {
	if hash == "" {
		return ErrInvalidCredentials
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Register creates an account awaiting verification and mails the link.
// The very first account is bootstrapped as staff with a forever
// subscription and needs no verification.
func (s *AccountService) Register(ctx context.Context, username, email, password string) (*model.Account, error) {
	username = validation.NormalizeUsername(username)
	err := validation.ValidateUsername(username)
	if err != nil {
		return nil, invalid(err)
	}
	email = validation.NormalizeEmail(email)
	err = validation.ValidateEmail(email)
	if err != nil {
		return nil, invalid(err)
	}
	err = validation.ValidatePassword(password)
	if err != nil {
		return nil, invalid(err)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	count, err := s.accountRepository.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}
	first := count == 0

	account := model.NewAccount(username, model.LevelAwaitingVerification, s.now())
	if first {
		account.VerificationLevel = model.LevelStaff
		account.Paid = true
		account.SubscriptionExpiry = model.ExpiryForever
	}
	credential := &model.Credential{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}

	err = s.accountRepository.Create(ctx, account, credential)
	if err != nil {
		return nil, mapStoreError(err)
	}

	if first {
		slog.Info("first account bootstrapped as staff", "username", username)
		s.auditService.Record(ctx, fmt.Sprintf("%s registered as the first account and was made staff", username))
		return account, nil
	}

	slog.Info("account registered", "username", username)
	s.auditService.Record(ctx, fmt.Sprintf("%s registered", username))
	s.sendVerification(ctx, email, username)
	return account, nil
}

// sendVerification issues a verification token and mails it. Failures leave
// the account in place; the owner can ask for a new link.
func (s *AccountService) sendVerification(ctx context.Context, email, username string) {
	token, err := s.tokenService.Issue(ctx, model.TokenKindVerification, email, username)
	if err != nil {
		slog.Error("failed to issue verification token", "error", err, "username", username)
		return
	}
	err = s.emailService.SendVerificationEmail(ctx, email, username, token)
	if err != nil {
		slog.Error("failed to send verification email", "error", err, "username", username)
	}
}

// VerifyEmail consumes a verification link. An account that staff already
// verified is returned unchanged.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*model.Account, error) {
	consumed, err := s.tokenService.Consume(ctx, model.TokenKindVerification, token)
	if err != nil {
		return nil, err
	}

	account, err := s.accountRepository.ByUsername(ctx, consumed.Username)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if !account.IsAwaitingVerification() {
		return account, nil
	}

	err = s.lifecycle.Apply(ctx, "", account, ActionConsumeVerification)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ResendVerification mails a fresh link to an account still awaiting
// verification. A non-empty email replaces the address on file first, which is
// how a typo made at registration gets corrected; the new address only counts
// once the link sent to it is opened.
func (s *AccountService) ResendVerification(ctx context.Context, account *model.Account, email string) error {
	err := CheckAuthenticated(account)
	if err != nil {
		return err
	}
	if !account.IsAwaitingVerification() {
		return ErrIllegalTransition
	}
	credential, err := s.credentialRepository.ByUsername(ctx, account.Username)
	if err != nil {
		return mapStoreError(err)
	}

	address := credential.Email
	if email != "" {
		email = validation.NormalizeEmail(email)
		err = validation.ValidateEmail(email)
		if err != nil {
			return invalid(err)
		}
		if email != address {
			err = applyEmail(ctx, s.editor, account, email)
			if err != nil {
				return mapStoreError(err)
			}
			slog.Info("unverified email corrected", "username", account.Username)
			s.auditService.Record(ctx, fmt.Sprintf("%s corrected their unverified email address", account.Username))
			address = email
		}
	}

	token, err := s.tokenService.Issue(ctx, model.TokenKindVerification, address, account.Username)
	if err != nil {
		return err
	}
	return s.emailService.SendVerificationEmail(ctx, address, account.Username, token)
}

// RequestPasswordReset mails a reset link. Unknown addresses succeed silently
// so the endpoint cannot be used to probe for accounts.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = validation.NormalizeEmail(email)
	err := validation.ValidateEmail(email)
	if err != nil {
		return invalid(err)
	}

	credential, err := s.credentialRepository.ByEmail(ctx, email)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		slog.Debug("password reset for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up email: %w", err)
	}
	if !credential.HasPassword() {
		return nil
	}
	account, err := s.accountRepository.ByUsername(ctx, credential.Username)
	if err != nil {
		return mapStoreError(err)
	}
	if CheckSelfService(account) != nil {
		slog.Debug("password reset skipped", "username", account.Username, "level", account.VerificationLevel)
		return nil
	}

	token, err := s.tokenService.Issue(ctx, model.TokenKindReset, credential.Email, credential.Username)
	if err != nil {
		return err
	}
	return s.emailService.SendPasswordResetEmail(ctx, credential.Email, credential.Username, token)
}

// ResetPassword checks the new password before the token is spent, so a
// rejected password does not burn the link. Only verified accounts may reset.
func (s *AccountService) ResetPassword(ctx context.Context, token, password string) error {
	err := validation.ValidatePassword(password)
	if err != nil {
		return invalid(err)
	}

	consumed, err := s.tokenService.Consume(ctx, model.TokenKindReset, token)
	if err != nil {
		return err
	}

	account, err := s.accountRepository.ByUsername(ctx, consumed.Username)
	if err != nil {
		return mapStoreError(err)
	}
	err = CheckSelfService(account)
	if err != nil {
		return err
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	err = s.credentialRepository.UpdatePasswordHash(ctx, account.Username, hash)
	if err != nil {
		return mapStoreError(err)
	}

	slog.Info("password reset", "username", account.Username)
	s.auditService.Record(ctx, fmt.Sprintf("%s reset their password", account.Username))
	return nil
}

// Login accepts a username or an email address as identifier.
func (s *AccountService) Login(ctx context.Context, identifier, password string) (*model.Account, error) {
	var credential *model.Credential
	var err error
	if strings.Contains(identifier, "@") {
		credential, err = s.credentialRepository.ByEmail(ctx, validation.NormalizeEmail(identifier))
	} else {
		credential, err = s.credentialRepository.ByUsername(ctx, validation.NormalizeUsername(identifier))
	}
	if errors.Is(err, repository.ErrCredentialNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	err = comparePassword(password, credential.PasswordHash)
	if err != nil {
		return nil, err
	}

	account, err := s.accountRepository.ByUsername(ctx, credential.Username)
	if err != nil {
		return nil, mapStoreError(err)
	}
	err = CheckAuthenticated(account)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", "username", account.Username)
	return account, nil
}

// Authorize re-reads the session's account so suspension takes effect on
// the next request.
func (s *AccountService) Authorize(ctx context.Context, username string) (*model.Account, error) {
	account, err := s.accountRepository.ByUsername(ctx, username)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	err = CheckAuthenticated(account)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *AccountService) Credential(ctx context.Context, account *model.Account) (*model.Credential, error) {
	credential, err := s.credentialRepository.ByUsername(ctx, account.Username)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return credential, nil
}

// ChangeEmail updates the sign-in address and tells the old one. Accounts
// awaiting verification correct their address through ResendVerification.
func (s *AccountService) ChangeEmail(ctx context.Context, account *model.Account, newEmail string) error {
	err := CheckSelfService(account)
	if err != nil {
		return err
	}

	newEmail = validation.NormalizeEmail(newEmail)
	err = validation.ValidateEmail(newEmail)
	if err != nil {
		return invalid(err)
	}

	credential, err := s.credentialRepository.ByUsername(ctx, account.Username)
	if err != nil {
		return mapStoreError(err)
	}
	oldEmail := credential.Email
	if oldEmail == newEmail {
		return nil
	}

	err = applyEmail(ctx, s.editor, account, newEmail)
	if err != nil {
		return mapStoreError(err)
	}

	err = s.emailService.SendEmailChangeNotification(ctx, oldEmail, newEmail, account.Username)
	if err != nil {
		slog.Warn("failed to notify old email address", "error", err, "username", account.Username)
	}

	slog.Info("email changed", "username", account.Username)
	s.auditService.Record(ctx, fmt.Sprintf("%s changed their email address", account.Username))
	return nil
}

// ChangeUsername renames the account at most once per cooldown window.
func (s *AccountService) ChangeUsername(ctx context.Context, account *model.Account, newUsername string) error {
	err := CheckSelfService(account)
	if err != nil {
		return err
	}

	newUsername = validation.NormalizeUsername(newUsername)
	err = validation.ValidateUsername(newUsername)
	if err != nil {
		return invalid(err)
	}
	if newUsername == account.Username {
		return nil
	}

	if s.now().Before(account.LastUsernameChangeAt.Add(s.usernameCooldown)) {
		return ErrUsernameCooldown
	}

	oldUsername := account.Username
	err = applyUsername(ctx, s.editor, account, newUsername)
	if err != nil {
		return mapStoreError(err)
	}

	slog.Info("username changed", "from", oldUsername, "to", newUsername)
	s.auditService.Record(ctx, fmt.Sprintf("%s renamed to %s", oldUsername, newUsername))
	return nil
}

func (s *AccountService) ChangePassword(ctx context.Context, account *model.Account, currentPassword, newPassword string) error {
	err := CheckSelfService(account)
	if err != nil {
		return err
	}

	credential, err := s.credentialRepository.ByUsername(ctx, account.Username)
	if err != nil {
		return mapStoreError(err)
	}
	err = comparePassword(currentPassword, credential.PasswordHash)
	if err != nil {
		return err
	}

	err = validation.ValidatePassword(newPassword)
	if err != nil {
		return invalid(err)
	}
	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	err = s.credentialRepository.UpdatePasswordHash(ctx, account.Username, hash)
	if err != nil {
		return mapStoreError(err)
	}

	err = s.tokenService.Revoke(ctx, model.TokenKindReset, account.Username)
	if err != nil {
		slog.Warn("failed to revoke reset token", "error", err, "username", account.Username)
	}

	slog.Info("password changed", "username", account.Username)
	return nil
}

// UpdateProfile applies the self-editable fields of edits and returns the
// names of the fields that changed.
func (s *AccountService) UpdateProfile(ctx context.Context, account *model.Account, edits map[string]string) ([]string, error) {
	err := CheckSelfService(account)
	if err != nil {
		return nil, err
	}

	planned, err := s.editor.plan(account, nil, edits, true)
	if err != nil {
		return nil, err
	}
	if len(planned) == 0 {
		return nil, nil
	}

	applied, err := s.editor.apply(ctx, account, planned)
	if len(applied) > 0 {
		slog.Info("profile updated", "username", account.Username, "fields", applied)
	}
	return applied, err
}

var avatarExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// UploadAvatar stores an image and points the profile at it. The previous
// upload, if any, is removed.
func (s *AccountService) UploadAvatar(ctx context.Context, account *model.Account, filename string, size int64, file io.ReadSeeker) (string, error) {
	err := CheckSelfService(account)
	if err != nil {
		return "", err
	}
	if s.storage == nil {
		return "", ErrUploadsDisabled
	}

	contentType, err := validation.ValidateUpload(filename, size, file, validation.AvatarConstraints)
	if err != nil {
		return "", invalid(err)
	}

	ext, ok := avatarExtensions[contentType]
	if !ok {
		ext = strings.ToLower(filepath.Ext(filename))
	}
	path := "avatars/" + uuid.New().String() + ext

	err = s.storage.Save(ctx, path, file, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to store avatar: %w", err)
	}

	url := s.storage.URL(path)
	err = s.accountRepository.UpdateColumn(ctx, account.Username, "avatar_url", url)
	if err != nil {
		deleteStoredAvatar(ctx, s.storage, url)
		return "", mapStoreError(err)
	}

	deleteStoredAvatar(ctx, s.storage, account.AvatarURL)
	account.AvatarURL = url
	slog.Info("avatar uploaded", "username", account.Username, "path", path)
	return url, nil
}

// DeleteAccount removes the caller's own account after re-checking the password.
func (s *AccountService) DeleteAccount(ctx context.Context, account *model.Account, password string) error {
	err := CheckAuthenticated(account)
	if err != nil {
		return err
	}

	credential, err := s.credentialRepository.ByUsername(ctx, account.Username)
	if err != nil {
		return mapStoreError(err)
	}
	err = comparePassword(password, credential.PasswordHash)
	if err != nil {
		return err
	}

	return s.remover.remove(ctx, "", account)
}

// PublicProfile returns the account shown at /u/{username}. A shadow account
// resolves to its redirect target, reported in redirectTo. Accounts that
// are suspended or not yet verified are not public.
func (s *AccountService) PublicProfile(ctx context.Context, username string) (account *model.Account, redirectTo string, err error) {
	account, err = s.accountRepository.ByUsername(ctx, validation.NormalizeUsername(username))
	if err != nil {
		return nil, "", mapStoreError(err)
	}

	if account.IsShadow() {
		redirectTo = account.RedirectTarget()
		account, err = s.accountRepository.ByUsername(ctx, redirectTo)
		if err != nil {
			return nil, "", mapStoreError(err)
		}
	}

	if account.IsShadow() || account.IsSuspended() || account.IsAwaitingVerification() {
		return nil, "", ErrAccountNotFound
	}
	return account, redirectTo, nil
}
