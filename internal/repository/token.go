package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/linkpage/internal/model"
)

var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrDuplicateToken   = errors.New("token already exists")
	ErrUnknownTokenKind = errors.New("unknown token kind")
)

type TokenRepository interface {
	Replace(ctx context.Context, kind model.TokenKind, token *model.Token) error
	Consume(ctx context.Context, kind model.TokenKind, token string) (*model.Token, error)
	DeleteByEmail(ctx context.Context, kind model.TokenKind, email string) error
	DeleteByUsername(ctx context.Context, kind model.TokenKind, username string) error
	DeleteExpired(ctx context.Context, kind model.TokenKind, now time.Time) ([]model.Token, error)
}

type tokenRepository struct {
	db *sqlx.DB
}

func NewTokenRepository(db *sqlx.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func tokenTable(kind model.TokenKind) (string, error) {
	switch kind {
	case model.TokenKindVerification:
		return "verification_tokens", nil
	case model.TokenKindReset:
		return "reset_tokens", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTokenKind, kind)
	}
}

// Replace drops any outstanding token for the email or the username and
// inserts the new one, so an account holds at most one token per kind.
// A clash on the token value is reported as ErrDuplicateToken, never retried.
func (r *tokenRepository) Replace(ctx context.Context, kind model.TokenKind, token *model.Token) error {
	table, err := tokenTable(kind)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE email = $1 OR username = $2`, table), token.Email, token.Username)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (email, username, token, expires_at) VALUES ($1, $2, $3, $4)`, table)
	_, err = tx.ExecContext(ctx, query, token.Email, token.Username, token.Token, dbTime(token.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateToken
		}
		return err
	}

	return tx.Commit()
}

// Consume deletes the token row and returns it. Only the caller whose DELETE
// removed the row gets it back; a concurrent consumer sees ErrTokenNotFound.
// Expiry is left to the caller so it can tell expired from unknown.
func (r *tokenRepository) Consume(ctx context.Context, kind model.TokenKind, token string) (*model.Token, error) {
	table, err := tokenTable(kind)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var t model.Token
	err = tx.GetContext(ctx, &t, fmt.Sprintf(`SELECT * FROM %s WHERE token = $1`, table), token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE token = $1`, table), token)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrTokenNotFound
	}

	err = tx.Commit()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tokenRepository) DeleteByEmail(ctx context.Context, kind model.TokenKind, email string) error {
	table, err := tokenTable(kind)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE email = $1`, table), email)
	return err
}

func (r *tokenRepository) DeleteByUsername(ctx context.Context, kind model.TokenKind, username string) error {
	table, err := tokenTable(kind)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE username = $1`, table), username)
	return err
}

// DeleteExpired removes every token whose expiry is at or before now and returns the removed rows.
func (r *tokenRepository) DeleteExpired(ctx context.Context, kind model.TokenKind, now time.Time) ([]model.Token, error) {
	table, err := tokenTable(kind)
	if err != nil {
		return nil, err
	}
	cutoff := dbTime(now)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var expired []model.Token
	err = tx.SelectContext(ctx, &expired, fmt.Sprintf(`SELECT * FROM %s WHERE expires_at <= $1`, table), cutoff)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, table), cutoff)
	if err != nil {
		return nil, err
	}

	return expired, tx.Commit()
}
