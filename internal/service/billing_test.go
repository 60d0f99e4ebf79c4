package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/service/payment"
)

func TestStartCheckoutCreatesCustomerOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "alice", model.LevelMember)

	url, err := f.billing.StartCheckout(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, url, "price=price_123")
	assert.Contains(t, url, "success=https://links.test/billing/confirm?session_id="+payment.SessionPlaceholder)

	_, err = f.billing.StartCheckout(ctx, "alice")
	require.NoError(t, err)

	assert.Len(t, f.gateway.customers, 1)
	credential, err := f.credentials.ByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", credential.CustomerID())
}

func TestStartCheckoutGatewayFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "alice", model.LevelMember)
	f.gateway.failWith = errors.New("api down")

	_, err := f.billing.StartCheckout(ctx, "alice")
	assert.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, KindGateway, KindOf(err))
}

func TestPaymentsDisabled(t *testing.T) {
	ctx := context.Background()
	billing := NewBillingService(nil, nil, nil, "", "")

	assert.False(t, billing.Enabled())
	_, err := billing.StartCheckout(ctx, "alice")
	assert.ErrorIs(t, err, ErrPaymentsDisabled)
	_, err = billing.ConfirmCheckout(ctx, "alice", "cs_1")
	assert.ErrorIs(t, err, ErrPaymentsDisabled)
	err = billing.HandleWebhook(ctx, nil, http.Header{})
	assert.ErrorIs(t, err, ErrPaymentsDisabled)
	assert.Equal(t, KindDisabled, KindOf(err))

	billing.SyncCustomerEmail(ctx, "alice", "a@b.com")
	billing.DeleteCustomer(ctx, "cus_1")
}

func TestConfirmCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "alice", model.LevelMember)
	f.seed(t, "bob", model.LevelMember)

	_, err := f.billing.StartCheckout(ctx, "alice")
	require.NoError(t, err)

	paid, err := f.billing.ConfirmCheckout(ctx, "alice", "cs_1")
	require.NoError(t, err)
	assert.False(t, paid)
	assert.False(t, f.reload(t, "alice").Paid)

	f.gateway.complete("cs_1")

	_, err = f.billing.ConfirmCheckout(ctx, "bob", "cs_1")
	assert.ErrorIs(t, err, ErrUnknownCustomer)
	assert.False(t, f.reload(t, "bob").Paid)

	paid, err = f.billing.ConfirmCheckout(ctx, "alice", "cs_1")
	require.NoError(t, err)
	assert.True(t, paid)

	alice := f.reload(t, "alice")
	assert.True(t, alice.Paid)
	assert.Equal(t, model.Expiry("2027-03-14"), alice.SubscriptionExpiry)
}

func TestHandleWebhook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "alice", model.LevelMember)
	f.withCustomer(t, "alice", "cus_alice")

	f.gateway.webhookErr = payment.ErrInvalidSignature
	err := f.billing.HandleWebhook(ctx, []byte("{}"), http.Header{})
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	assert.Equal(t, KindGateway, KindOf(err))

	f.gateway.webhookErr = nil
	f.gateway.event = &payment.Event{Type: payment.EventPaymentSucceeded, CustomerID: "cus_ghost"}
	err = f.billing.HandleWebhook(ctx, []byte("{}"), http.Header{})
	assert.ErrorIs(t, err, ErrUnknownCustomer)

	f.gateway.event = &payment.Event{Type: payment.EventPaymentSucceeded, CustomerID: "cus_alice"}
	require.NoError(t, f.billing.HandleWebhook(ctx, []byte("{}"), http.Header{}))
	assert.True(t, f.reload(t, "alice").Paid)
}
