package payment

import (
	"fmt"
	"log/slog"

	"github.com/templui/linkpage/internal/config"
)

// NewGateway creates a payment gateway based on configuration.
// It returns nil when no provider is configured, which disables billing.
func NewGateway(cfg *config.Config) (Gateway, error) {
	provider := cfg.PaymentProvider
	if provider == "" {
		slog.Info("payments disabled, no provider configured")
		return nil, nil
	}

	slog.Info("initializing payment gateway", "provider", provider)

	switch provider {
	case ProviderPolar:
		if cfg.PolarAPIKey == "" {
			return nil, fmt.Errorf("POLAR_API_KEY is required when using Polar provider")
		}
		return NewPolarGateway(cfg.PolarAPIKey, cfg.PolarWebhookSecret, cfg.PolarSandboxMode), nil

	case ProviderStripe:
		if cfg.StripeSecretKey == "" {
			return nil, fmt.Errorf("STRIPE_SECRET_KEY is required when using Stripe provider")
		}
		if cfg.StripeWebhookSecret == "" {
			return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when using Stripe provider")
		}
		return NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret), nil

	default:
		return nil, fmt.Errorf("unknown payment provider: %s (supported: polar, stripe)", provider)
	}
}
