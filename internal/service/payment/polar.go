package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	polargo "github.com/polarsource/polar-go"
	"github.com/polarsource/polar-go/models/components"
	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"
)

type PolarGateway struct {
	client        *polargo.Polar
	webhookSecret string
}

func NewPolarGateway(apiKey, webhookSecret string, sandbox bool) *PolarGateway {
	var serverOption polargo.SDKOption
	if sandbox {
		serverOption = polargo.WithServer(polargo.ServerSandbox)
		slog.Info("polar using sandbox mode")
	} else {
		serverOption = polargo.WithServer(polargo.ServerProduction)
		slog.Info("polar using production mode")
	}

	client := polargo.New(
		polargo.WithSecurity(apiKey),
		serverOption,
	)

	return &PolarGateway{
		client:        client,
		webhookSecret: webhookSecret,
	}
}

func (p *PolarGateway) Name() string {
	return ProviderPolar
}

func (p *PolarGateway) CreateCustomer(ctx context.Context, email string) (string, error) {
	res, err := p.client.Customers.Create(ctx, components.CustomerCreate{Email: email})
	if err != nil {
		return "", fmt.Errorf("failed to create polar customer: %w", err)
	}
	if res == nil || res.Customer == nil {
		return "", fmt.Errorf("customer response is nil")
	}

	slog.Info("polar customer created", "customer_id", res.Customer.ID)
	return res.Customer.ID, nil
}

func (p *PolarGateway) UpdateCustomerEmail(ctx context.Context, customerID, email string) error {
	_, err := p.client.Customers.Update(ctx, customerID, components.CustomerUpdate{
		Email: polargo.String(email),
	})
	if err != nil {
		return fmt.Errorf("failed to update polar customer: %w", err)
	}
	return nil
}

func (p *PolarGateway) DeleteCustomer(ctx context.Context, customerID string) error {
	_, err := p.client.Customers.Delete(ctx, customerID)
	if err != nil {
		return fmt.Errorf("failed to delete polar customer: %w", err)
	}
	return nil
}

// CreateCheckoutSession treats priceID as a Polar product id. Polar has no
// cancel URL; the customer returns to cancelURL from the checkout page.
func (p *PolarGateway) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (string, error) {
	res, err := p.client.Checkouts.Create(ctx, components.CheckoutCreate{
		Products:           []string{priceID},
		CustomerID:         polargo.String(customerID),
		SuccessURL:         polargo.String(strings.ReplaceAll(successURL, SessionPlaceholder, "{CHECKOUT_ID}")),
		ReturnURL:          polargo.String(cancelURL),
		AllowDiscountCodes: polargo.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create checkout: %w", err)
	}
	if res == nil || res.Checkout == nil {
		return "", fmt.Errorf("checkout response is nil")
	}

	slog.Info("polar checkout created", "customer_id", customerID, "checkout_id", res.Checkout.ID)
	return res.Checkout.URL, nil
}

func (p *PolarGateway) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	res, err := p.client.Checkouts.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout: %w", err)
	}
	if res == nil || res.Checkout == nil {
		return nil, fmt.Errorf("checkout response is nil")
	}

	session := &CheckoutSession{
		ID:       res.Checkout.ID,
		Complete: res.Checkout.Status == components.CheckoutStatusSucceeded,
	}
	if res.Checkout.CustomerID != nil {
		session.CustomerID = *res.Checkout.CustomerID
	}
	return session, nil
}

func (p *PolarGateway) ParseWebhook(payload []byte, headers http.Header) (*Event, error) {
	err := p.verify(payload, headers)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	err = json.Unmarshal(payload, &envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse webhook: %w", err)
	}

	slog.Info("polar webhook received", "event_type", envelope.Type)

	switch envelope.Type {
	case "order.paid":
		return parsePolarOrderPaid(envelope.Data)
	case "subscription.updated":
		return parsePolarSubscriptionUpdated(envelope.Data)
	default:
		return &Event{Type: EventIgnored, ProviderType: envelope.Type}, nil
	}
}

func (p *PolarGateway) verify(payload []byte, headers http.Header) error {
	if p.webhookSecret == "" {
		return fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}

	wh, err := standardwebhooks.NewWebhookRaw([]byte(p.webhookSecret))
	if err != nil {
		return fmt.Errorf("failed to create webhook verifier: %w", err)
	}

	httpHeaders := http.Header{}
	httpHeaders.Set("webhook-id", headers.Get("webhook-id"))
	httpHeaders.Set("webhook-timestamp", headers.Get("webhook-timestamp"))
	httpHeaders.Set("webhook-signature", headers.Get("webhook-signature"))

	err = wh.Verify(payload, httpHeaders)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func parsePolarOrderPaid(data json.RawMessage) (*Event, error) {
	var order struct {
		CustomerID     string  `json:"customer_id"`
		SubscriptionID *string `json:"subscription_id"`
	}

	err := json.Unmarshal(data, &order)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order data: %w", err)
	}

	event := &Event{
		Type:         EventPaymentSucceeded,
		ProviderType: "order.paid",
		CustomerID:   order.CustomerID,
	}
	if order.SubscriptionID != nil {
		event.SubscriptionID = *order.SubscriptionID
	}
	return event, nil
}

func parsePolarSubscriptionUpdated(data json.RawMessage) (*Event, error) {
	var subscription struct {
		ID                string  `json:"id"`
		CustomerID        string  `json:"customer_id"`
		Status            string  `json:"status"`
		CancelAtPeriodEnd bool    `json:"cancel_at_period_end"`
		CurrentPeriodEnd  *string `json:"current_period_end"`
	}

	err := json.Unmarshal(data, &subscription)
	if err != nil {
		return nil, fmt.Errorf("failed to parse subscription data: %w", err)
	}

	event := &Event{
		Type:              EventSubscriptionStatusChanged,
		ProviderType:      "subscription.updated",
		CustomerID:        subscription.CustomerID,
		SubscriptionID:    subscription.ID,
		Status:            subscription.Status,
		CancelAtPeriodEnd: subscription.CancelAtPeriodEnd,
	}
	if subscription.CurrentPeriodEnd != nil {
		periodEnd, err := time.Parse(time.RFC3339, *subscription.CurrentPeriodEnd)
		if err == nil {
			event.PeriodEnd = periodEnd.UTC()
		}
	}
	return event, nil
}
