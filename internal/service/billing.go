package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/templui/linkpage/internal/repository"
	"github.com/templui/linkpage/internal/service/payment"
)

// BillingService talks to the payment gateway on behalf of an account.
// A nil gateway means payments are disabled.
type BillingService struct {
	gateway              payment.Gateway
	credentialRepository repository.CredentialRepository
	reconciler           *SubscriptionReconciler
	priceID              string
	appURL               string
}

func NewBillingService(
	gateway payment.Gateway,
	credentialRepository repository.CredentialRepository,
	reconciler *SubscriptionReconciler,
	priceID string,
	appURL string,
) *BillingService {
	return &BillingService{
		gateway:              gateway,
		credentialRepository: credentialRepository,
		reconciler:           reconciler,
		priceID:              priceID,
		appURL:               appURL,
	}
}

func (s *BillingService) Enabled() bool {
	return s != nil && s.gateway != nil
}

// StartCheckout returns the gateway checkout URL, creating the gateway
// customer on first use.
func (s *BillingService) StartCheckout(ctx context.Context, username string) (string, error) {
	if !s.Enabled() {
		return "", ErrPaymentsDisabled
	}

	credential, err := s.credentialRepository.ByUsername(ctx, username)
	if err != nil {
		return "", mapStoreError(err)
	}

	customerID := credential.CustomerID()
	if customerID == "" {
		customerID, err = s.gateway.CreateCustomer(ctx, credential.Email)
		if err != nil {
			return "", wrapError(ErrGateway, err)
		}
		err = s.credentialRepository.SetPaymentCustomerID(ctx, username, &customerID)
		if err != nil {
			return "", fmt.Errorf("failed to store payment customer: %w", err)
		}
		slog.Info("payment customer created", "username", username, "provider", s.gateway.Name())
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, customerID, s.priceID,
		s.appURL+"/billing/confirm?session_id="+payment.SessionPlaceholder,
		s.appURL+"/account")
	if err != nil {
		return "", wrapError(ErrGateway, err)
	}
	return url, nil
}

// ConfirmCheckout applies a completed checkout right away instead of waiting
// for the webhook. The session must belong to the caller's customer.
func (s *BillingService) ConfirmCheckout(ctx context.Context, username, sessionID string) (bool, error) {
	if !s.Enabled() {
		return false, ErrPaymentsDisabled
	}

	credential, err := s.credentialRepository.ByUsername(ctx, username)
	if err != nil {
		return false, mapStoreError(err)
	}

	session, err := s.gateway.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return false, wrapError(ErrGateway, err)
	}
	if session.CustomerID == "" || session.CustomerID != credential.CustomerID() {
		slog.Warn("checkout session belongs to another customer", "username", username, "session_id", sessionID)
		return false, wrapError(ErrUnknownCustomer, errors.New("checkout session customer mismatch"))
	}
	if !session.Complete {
		return false, nil
	}

	err = s.reconciler.HandleEvent(ctx, &payment.Event{
		Type:         payment.EventPaymentSucceeded,
		ProviderType: "checkout.confirmed",
		CustomerID:   session.CustomerID,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// HandleWebhook verifies and applies one gateway delivery.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if !s.Enabled() {
		return ErrPaymentsDisabled
	}

	event, err := s.gateway.ParseWebhook(payload, headers)
	if err != nil {
		return wrapError(ErrGateway, err)
	}
	return s.reconciler.HandleEvent(ctx, event)
}

// SyncCustomerEmail pushes a changed email to the gateway. Failures are logged only.
func (s *BillingService) SyncCustomerEmail(ctx context.Context, username, email string) {
	if !s.Enabled() {
		return
	}
	credential, err := s.credentialRepository.ByUsername(ctx, username)
	if err != nil || credential.CustomerID() == "" {
		return
	}
	err = s.gateway.UpdateCustomerEmail(ctx, credential.CustomerID(), email)
	if err != nil {
		slog.Error("failed to update payment customer email", "error", err, "username", username)
	}
}

// DeleteCustomer removes the gateway customer. Failures are logged only.
func (s *BillingService) DeleteCustomer(ctx context.Context, customerID string) {
	if !s.Enabled() || customerID == "" {
		return
	}
	err := s.gateway.DeleteCustomer(ctx, customerID)
	if err != nil {
		slog.Error("failed to delete payment customer", "error", err, "customer_id", customerID)
	}
}
