package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/templui/linkpage/internal/model"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrDuplicateCustomer  = errors.New("payment customer already linked")
)

type CredentialRepository interface {
	ByUsername(ctx context.Context, username string) (*model.Credential, error)
	ByEmail(ctx context.Context, email string) (*model.Credential, error)
	ByPaymentCustomerID(ctx context.Context, customerID string) (*model.Credential, error)
	UpdateEmail(ctx context.Context, username, email string) error
	UpdatePasswordHash(ctx context.Context, username, hash string) error
	SetPaymentCustomerID(ctx context.Context, username string, customerID *string) error
}

type credentialRepository struct {
	db *sqlx.DB
}

func NewCredentialRepository(db *sqlx.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) ByUsername(ctx context.Context, username string) (*model.Credential, error) {
	return r.get(ctx, `SELECT * FROM credentials WHERE username = $1`, username)
}

func (r *credentialRepository) ByEmail(ctx context.Context, email string) (*model.Credential, error) {
	return r.get(ctx, `SELECT * FROM credentials WHERE email = $1`, email)
}

func (r *credentialRepository) ByPaymentCustomerID(ctx context.Context, customerID string) (*model.Credential, error) {
	return r.get(ctx, `SELECT * FROM credentials WHERE payment_customer_id = $1`, customerID)
}

func (r *credentialRepository) get(ctx context.Context, query string, arg any) (*model.Credential, error) {
	credential := &model.Credential{}
	err := r.db.GetContext(ctx, credential, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	return credential, nil
}

func (r *credentialRepository) UpdateEmail(ctx context.Context, username, email string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE credentials SET email = $1 WHERE username = $2`, email, username)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return requireCredential(result)
}

func (r *credentialRepository) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE credentials SET password_hash = $1 WHERE username = $2`, hash, username)
	if err != nil {
		return err
	}
	return requireCredential(result)
}

func (r *credentialRepository) SetPaymentCustomerID(ctx context.Context, username string, customerID *string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE credentials SET payment_customer_id = $1 WHERE username = $2`, customerID, username)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return requireCredential(result)
}

func requireCredential(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}
	return nil
}
