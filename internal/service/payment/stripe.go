package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/webhook"
)

type StripeGateway struct {
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	stripe.Key = secretKey

	slog.Info("stripe gateway initialized")

	return &StripeGateway{webhookSecret: webhookSecret}
}

func (s *StripeGateway) Name() string {
	return ProviderStripe
}

func (s *StripeGateway) CreateCustomer(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}

	slog.Info("stripe customer created", "customer_id", c.ID)
	return c.ID, nil
}

func (s *StripeGateway) UpdateCustomerEmail(ctx context.Context, customerID, email string) error {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx

	_, err := customer.Update(customerID, params)
	if err != nil {
		return fmt.Errorf("failed to update stripe customer: %w", err)
	}
	return nil
}

func (s *StripeGateway) DeleteCustomer(ctx context.Context, customerID string) error {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	_, err := customer.Del(customerID, params)
	if err != nil {
		return fmt.Errorf("failed to delete stripe customer: %w", err)
	}
	return nil
}

func (s *StripeGateway) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	slog.Info("stripe checkout created", "customer_id", customerID, "session_id", sess.ID)
	return sess.URL, nil
}

func (s *StripeGateway) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := checkoutsession.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}

	result := &CheckoutSession{
		ID:       sess.ID,
		Complete: sess.Status == stripe.CheckoutSessionStatusComplete,
	}
	if sess.Customer != nil {
		result.CustomerID = sess.Customer.ID
	}
	return result, nil
}

func (s *StripeGateway) ParseWebhook(payload []byte, headers http.Header) (*Event, error) {
	signature := headers.Get("Stripe-Signature")

	// Stripe's API versions are backwards compatible for the fields read here
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		s.webhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	slog.Info("stripe webhook received", "event_type", event.Type)

	switch event.Type {
	case "invoice.payment_succeeded":
		return s.parseInvoicePaymentSucceeded(event.Data.Raw)
	case "customer.subscription.updated":
		return s.parseSubscriptionUpdated(event.Data.Raw)
	default:
		return &Event{Type: EventIgnored, ProviderType: string(event.Type)}, nil
	}
}

func (s *StripeGateway) parseInvoicePaymentSucceeded(data json.RawMessage) (*Event, error) {
	var invoice struct {
		CustomerID     string `json:"customer"`
		SubscriptionID string `json:"subscription"`
	}

	err := json.Unmarshal(data, &invoice)
	if err != nil {
		return nil, fmt.Errorf("failed to parse invoice: %w", err)
	}

	return &Event{
		Type:           EventPaymentSucceeded,
		ProviderType:   "invoice.payment_succeeded",
		CustomerID:     invoice.CustomerID,
		SubscriptionID: invoice.SubscriptionID,
	}, nil
}

func (s *StripeGateway) parseSubscriptionUpdated(data json.RawMessage) (*Event, error) {
	var subscription struct {
		ID                string `json:"id"`
		CustomerID        string `json:"customer"`
		Status            string `json:"status"`
		CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
		CurrentPeriodEnd  int64  `json:"current_period_end"`
	}

	err := json.Unmarshal(data, &subscription)
	if err != nil {
		return nil, fmt.Errorf("failed to parse subscription: %w", err)
	}

	event := &Event{
		Type:              EventSubscriptionStatusChanged,
		ProviderType:      "customer.subscription.updated",
		CustomerID:        subscription.CustomerID,
		SubscriptionID:    subscription.ID,
		Status:            subscription.Status,
		CancelAtPeriodEnd: subscription.CancelAtPeriodEnd,
	}
	if subscription.CurrentPeriodEnd > 0 {
		event.PeriodEnd = time.Unix(subscription.CurrentPeriodEnd, 0).UTC()
	}
	return event, nil
}
