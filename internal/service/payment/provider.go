package payment

import (
	"context"
	"errors"
	"net/http"
	"time"
)

const (
	ProviderStripe = "stripe"
	ProviderPolar  = "polar"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Gateway is the payment provider seen by the billing and reconciliation code.
type Gateway interface {
	// Name returns the provider name (e.g., "polar", "stripe")
	Name() string

	CreateCustomer(ctx context.Context, email string) (string, error)
	UpdateCustomerEmail(ctx context.Context, customerID, email string) error
	DeleteCustomer(ctx context.Context, customerID string) error

	// CreateCheckoutSession returns the URL the customer is redirected to
	CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)

	// ParseWebhook verifies the signature and normalises the event.
	// Events the reconciler does not consume come back as EventIgnored.
	ParseWebhook(payload []byte, headers http.Header) (*Event, error)
}

type CheckoutSession struct {
	ID         string
	CustomerID string
	Complete   bool
}

type EventType string

const (
	EventIgnored                   EventType = ""
	EventPaymentSucceeded          EventType = "payment_succeeded"
	EventSubscriptionStatusChanged EventType = "subscription_status_changed"
)

// SessionPlaceholder in a success URL is replaced by the checkout session id.
const SessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// StatusUnpaid is the subscription status that revokes paid entitlement.
const StatusUnpaid = "unpaid"

type Event struct {
	Type              EventType
	ProviderType      string
	CustomerID        string
	SubscriptionID    string
	Status            string
	CancelAtPeriodEnd bool
	PeriodEnd         time.Time
}
