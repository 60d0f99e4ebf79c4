package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/repository"
)

const (
	tokenLength   = 32
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	DefaultTokenValidity = 48 * time.Hour
)

// TokenService issues and consumes single-use verification and reset tokens.
type TokenService struct {
	tokenRepository   repository.TokenRepository
	accountRepository repository.AccountRepository
	auditService      *AuditService
	validity          time.Duration
	now               func() time.Time
	generate          func() (string, error)
}

func NewTokenService(
	tokenRepository repository.TokenRepository,
	accountRepository repository.AccountRepository,
	auditService *AuditService,
	validity time.Duration,
) *TokenService {
	if validity <= 0 {
		validity = DefaultTokenValidity
	}
	return &TokenService{
		tokenRepository:   tokenRepository,
		accountRepository: accountRepository,
		auditService:      auditService,
		validity:          validity,
		now:               time.Now,
		generate:          generateToken,
	}
}

func generateToken() (string, error) {
	size := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, tokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Issue replaces any outstanding token of kind for email. If the generated value
// is already taken the issue fails with ErrTokenCollision; it is not regenerated.
func (s *TokenService) Issue(ctx context.Context, kind model.TokenKind, email, username string) (string, error) {
	value, err := s.generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	token := &model.Token{
		Email:     email,
		Username:  username,
		Token:     value,
		ExpiresAt: s.now().Add(s.validity),
	}
	err = s.tokenRepository.Replace(ctx, kind, token)
	if errors.Is(err, repository.ErrDuplicateToken) {
		slog.Warn("token collision", "kind", kind, "username", username)
		return "", wrapError(ErrTokenCollision, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to store %s token: %w", kind, err)
	}

	return value, nil
}

// Consume removes the token before returning it, so at most one caller ever
// receives a given token. An expired token is removed and reported as ErrTokenExpired;
// an expired verification token also takes its still unverified account with it.
func (s *TokenService) Consume(ctx context.Context, kind model.TokenKind, value string) (*model.Token, error) {
	if len(value) != tokenLength {
		return nil, ErrTokenNotFound
	}

	token, err := s.tokenRepository.Consume(ctx, kind, value)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s token: %w", kind, err)
	}

	if token.ExpiredAt(s.now()) {
		if kind == model.TokenKindVerification {
			s.dropUnverified(ctx, token.Username)
		}
		return nil, ErrTokenExpired
	}
	return token, nil
}

// Revoke drops the outstanding token of kind for username, if any.
func (s *TokenService) Revoke(ctx context.Context, kind model.TokenKind, username string) error {
	return s.tokenRepository.DeleteByUsername(ctx, kind, username)
}

// PurgeResult counts what one PurgeExpired pass removed.
type PurgeResult struct {
	Tokens   int
	Accounts int
}

// PurgeExpired deletes expired tokens of both kinds. Accounts whose verification
// token expired while they were still awaiting verification go with them, as do
// awaiting accounts older than the validity window that hold no token at all.
func (s *TokenService) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	var result PurgeResult
	now := s.now()

	reset, err := s.tokenRepository.DeleteExpired(ctx, model.TokenKindReset, now)
	if err != nil {
		return result, fmt.Errorf("failed to purge reset tokens: %w", err)
	}
	result.Tokens += len(reset)

	verification, err := s.tokenRepository.DeleteExpired(ctx, model.TokenKindVerification, now)
	if err != nil {
		return result, fmt.Errorf("failed to purge verification tokens: %w", err)
	}
	result.Tokens += len(verification)

	usernames := make([]string, 0, len(verification))
	for _, token := range verification {
		usernames = append(usernames, token.Username)
	}

	// Accounts whose link was already consumed as expired, or lost, have no
	// token row left to cascade from.
	stale, err := s.accountRepository.UnverifiedWithoutToken(ctx, now.Add(-s.validity))
	if err != nil {
		return result, fmt.Errorf("failed to find stale unverified accounts: %w", err)
	}
	usernames = append(usernames, stale...)

	for _, username := range usernames {
		if s.dropUnverified(ctx, username) {
			result.Accounts++
		}
	}

	if result.Tokens > 0 || result.Accounts > 0 {
		slog.Info("expired tokens purged", "tokens", result.Tokens, "accounts", result.Accounts)
	}
	return result, nil
}

// dropUnverified deletes username along with its credential and tokens if the
// account never left AWAITING_VERIFICATION.
func (s *TokenService) dropUnverified(ctx context.Context, username string) bool {
	deleted, err := s.accountRepository.DeleteIfLevel(ctx, username, model.LevelAwaitingVerification)
	if err != nil {
		slog.Error("failed to delete unverified account", "error", err, "username", username)
		return false
	}
	if deleted {
		s.auditService.Record(ctx, fmt.Sprintf("deleted unverified account %s after its verification link expired", username))
	}
	return deleted
}
