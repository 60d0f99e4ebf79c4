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
	ErrAccountNotFound   = errors.New("account not found")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateEmail    = errors.New("email already exists")
	ErrStaleWrite        = errors.New("account was modified concurrently")
	ErrColumnNotEditable = errors.New("column is not editable")
)

// editableColumns lists the profile columns UpdateColumn may touch.
var editableColumns = map[string]bool{
	"display_name":     true,
	"bio":              true,
	"avatar_url":       true,
	"links":            true,
	"link_names":       true,
	"featured_content": true,
	"theme":            true,
	"custom_theme_css": true,
	"age_gated":        true,
}

type AccountRepository interface {
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, account *model.Account, credential *model.Credential) error
	ByUsername(ctx context.Context, username string) (*model.Account, error)
	ByEmail(ctx context.Context, email string) (*model.Account, error)
	TransitionLevel(ctx context.Context, username string, from, to model.VerificationLevel, sub *model.Subscription) error
	MarkPaidUntil(ctx context.Context, username string, expiry model.Expiry) error
	MarkUnpaid(ctx context.Context, username string) (bool, error)
	CompareAndSetExpiry(ctx context.Context, username string, old, next model.Expiry) error
	ExpireLapsed(ctx context.Context, today model.Expiry) (int64, error)
	CountPaid(ctx context.Context) (int, error)
	UpdateColumn(ctx context.Context, username, column string, value any) error
	Rename(ctx context.Context, oldUsername, newUsername string, at time.Time) error
	Delete(ctx context.Context, username string) error
	DeleteIfLevel(ctx context.Context, username string, level model.VerificationLevel) (bool, error)
	UnverifiedWithoutToken(ctx context.Context, cutoff time.Time) ([]string, error)
}

type accountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM accounts`)
	return n, err
}

// Create inserts the account and its credential atomically. The unique
// constraints, not any earlier existence check, decide who wins a race.
func (r *accountRepository) Create(ctx context.Context, account *model.Account, credential *model.Credential) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (
			username, verification_level, paid, subscription_expiry, last_username_change_at,
			display_name, bio, avatar_url, links, link_names, featured_content,
			theme, custom_theme_css, age_gated, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		account.Username,
		account.VerificationLevel,
		account.Paid,
		account.SubscriptionExpiry,
		dbTime(account.LastUsernameChangeAt),
		account.DisplayName,
		account.Bio,
		account.AvatarURL,
		account.Links,
		account.LinkNames,
		account.FeaturedContent,
		account.Theme,
		account.CustomThemeCSS,
		account.AgeGated,
		dbTime(account.CreatedAt),
	)
	if err != nil {
		return mapUniqueViolation(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (username, email, password_hash, payment_customer_id)
		VALUES ($1, $2, $3, $4)
	`, credential.Username, credential.Email, credential.PasswordHash, credential.PaymentCustomerID)
	if err != nil {
		return mapUniqueViolation(err)
	}

	return tx.Commit()
}

func (r *accountRepository) ByUsername(ctx context.Context, username string) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.GetContext(ctx, account, `SELECT * FROM accounts WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *accountRepository) ByEmail(ctx context.Context, email string) (*model.Account, error) {
	account := &model.Account{}
	query := `
		SELECT a.* FROM accounts a
		JOIN credentials c ON c.username = a.username
		WHERE c.email = $1
	`
	err := r.db.GetContext(ctx, account, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// TransitionLevel moves username from one level to another only if it is still at from.
// A non-nil sub is written in the same statement.
func (r *accountRepository) TransitionLevel(ctx context.Context, username string, from, to model.VerificationLevel, sub *model.Subscription) error {
	var (
		result sql.Result
		err    error
	)
	if sub == nil {
		result, err = r.db.ExecContext(ctx, `
			UPDATE accounts SET verification_level = $1
			WHERE username = $2 AND verification_level = $3
		`, to, username, from)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE accounts SET verification_level = $1, paid = $2, subscription_expiry = $3
			WHERE username = $4 AND verification_level = $5
		`, to, sub.Paid, sub.Expiry, username, from)
	}
	if err != nil {
		return err
	}
	return r.requireRow(ctx, result, username)
}

// MarkPaidUntil sets paid and an absolute expiry. A forever subscription keeps its sentinel.
func (r *accountRepository) MarkPaidUntil(ctx context.Context, username string, expiry model.Expiry) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET paid = $1,
		    subscription_expiry = CASE WHEN subscription_expiry = $2 THEN subscription_expiry ELSE $3 END
		WHERE username = $4
	`, true, model.ExpiryForever, expiry, username)
	if err != nil {
		return err
	}
	return r.requireRow(ctx, result, username)
}

// MarkUnpaid clears the subscription unless it is forever. It reports whether a row changed.
func (r *accountRepository) MarkUnpaid(ctx context.Context, username string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET paid = $1, subscription_expiry = $2
		WHERE username = $3 AND subscription_expiry <> $4
	`, false, model.ExpiryNone, username, model.ExpiryForever)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CompareAndSetExpiry marks the account paid with next, provided the expiry is still old.
func (r *accountRepository) CompareAndSetExpiry(ctx context.Context, username string, old, next model.Expiry) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET paid = $1, subscription_expiry = $2
		WHERE username = $3 AND subscription_expiry = $4
	`, true, next, username, old)
	if err != nil {
		return err
	}
	return r.requireRow(ctx, result, username)
}

// ExpireLapsed downgrades every paid account whose dated expiry is before today.
func (r *accountRepository) ExpireLapsed(ctx context.Context, today model.Expiry) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET paid = $1, subscription_expiry = $2
		WHERE paid = $3
		  AND subscription_expiry <> $4
		  AND subscription_expiry <> $5
		  AND subscription_expiry < $6
	`, false, model.ExpiryNone, true, model.ExpiryNone, model.ExpiryForever, today)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *accountRepository) CountPaid(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM accounts WHERE paid = $1`, true)
	return n, err
}

func (r *accountRepository) UpdateColumn(ctx context.Context, username, column string, value any) error {
	if !editableColumns[column] {
		return fmt.Errorf("%w: %s", ErrColumnNotEditable, column)
	}

	query := fmt.Sprintf(`UPDATE accounts SET %s = $1 WHERE username = $2`, column)
	result, err := r.db.ExecContext(ctx, query, value, username)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Rename moves an account and everything keyed by its username, including shadow
// accounts redirecting to it, in one transaction.
func (r *accountRepository) Rename(ctx context.Context, oldUsername, newUsername string, at time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts SET username = $1, last_username_change_at = $2 WHERE username = $3
	`, newUsername, dbTime(at), oldUsername)
	if err != nil {
		return mapUniqueViolation(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAccountNotFound
	}

	// No-ops when the foreign keys already cascaded the rename.
	for _, table := range []string{"credentials", "verification_tokens", "reset_tokens"} {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET username = $1 WHERE username = $2`, table), newUsername, oldUsername)
		if err != nil {
			return mapUniqueViolation(err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts SET display_name = $1 WHERE verification_level = $2 AND display_name = $3
	`, newUsername, model.LevelShadow, oldUsername)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *accountRepository) Delete(ctx context.Context, username string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	deleted, err := deleteAccountTx(ctx, tx, username)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrAccountNotFound
	}
	return tx.Commit()
}

// DeleteIfLevel removes the account only while it is still at level.
func (r *accountRepository) DeleteIfLevel(ctx context.Context, username string, level model.VerificationLevel) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var current model.VerificationLevel
	err = tx.GetContext(ctx, &current, `SELECT verification_level FROM accounts WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current != level {
		return false, nil
	}

	deleted, err := deleteAccountTx(ctx, tx, username)
	if err != nil {
		return false, err
	}
	return deleted, tx.Commit()
}

// UnverifiedWithoutToken lists accounts still awaiting verification that were
// created at or before cutoff and no longer hold a verification token.
func (r *accountRepository) UnverifiedWithoutToken(ctx context.Context, cutoff time.Time) ([]string, error) {
	var usernames []string
	err := r.db.SelectContext(ctx, &usernames, `
		SELECT a.username FROM accounts a
		WHERE a.verification_level = $1
		  AND a.created_at <= $2
		  AND NOT EXISTS (SELECT 1 FROM verification_tokens v WHERE v.username = a.username)
		ORDER BY a.username
	`, model.LevelAwaitingVerification, dbTime(cutoff))
	return usernames, err
}

func deleteAccountTx(ctx context.Context, tx *sqlx.Tx, username string) (bool, error) {
	for _, table := range []string{"verification_tokens", "reset_tokens", "credentials"} {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE username = $1`, table), username)
		if err != nil {
			return false, err
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE username = $1`, username)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// requireRow distinguishes a missing account from a lost compare-and-set.
func (r *accountRepository) requireRow(ctx context.Context, result sql.Result, username string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = r.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM accounts WHERE username = $1`, username)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrAccountNotFound
	}
	return ErrStaleWrite
}
