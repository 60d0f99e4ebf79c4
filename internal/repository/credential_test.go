package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/linkpage/internal/db/dbtest"
	"github.com/templui/linkpage/internal/model"
)

func TestCredentialUpdates(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	accounts := NewAccountRepository(conn)
	repo := NewCredentialRepository(conn)
	seedAccount(t, accounts, "alice", "alice@example.com", model.LevelMember)
	seedAccount(t, accounts, "bob", "bob@example.com", model.LevelMember)

	require.NoError(t, repo.UpdateEmail(ctx, "alice", "alice@new.example"))
	assert.ErrorIs(t, repo.UpdateEmail(ctx, "alice", "bob@example.com"), ErrDuplicateEmail)
	assert.ErrorIs(t, repo.UpdateEmail(ctx, "ghost", "ghost@example.com"), ErrCredentialNotFound)

	require.NoError(t, repo.UpdatePasswordHash(ctx, "alice", "new-hash"))

	customer := "cus_123"
	require.NoError(t, repo.SetPaymentCustomerID(ctx, "alice", &customer))
	assert.ErrorIs(t, repo.SetPaymentCustomerID(ctx, "bob", &customer), ErrDuplicateCustomer)

	got, err := repo.ByPaymentCustomerID(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "alice@new.example", got.Email)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.Equal(t, "cus_123", got.CustomerID())

	require.NoError(t, repo.SetPaymentCustomerID(ctx, "alice", nil))
	_, err = repo.ByPaymentCustomerID(ctx, "cus_123")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}
