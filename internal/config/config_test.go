package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func setRequired(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("APP_URL", "http://localhost:8090")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMENT_PROVIDER", "")
	t.Setenv("S3_BUCKET", "")
	t.Setenv("RESEND_API_KEY", "")
	t.Setenv("SMTP_HOST", "")

	cfg := Load()

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 48*time.Hour, cfg.TokenValidity)
	assert.Equal(t, 4*time.Hour, cfg.SweepInterval)
	assert.Equal(t, 168*time.Hour, cfg.UsernameChangeCooldown)
	assert.False(t, cfg.PaymentsEnabled())
	assert.False(t, cfg.MailEnabled())
	assert.False(t, cfg.UploadsEnabled())
	assert.Empty(t, cfg.CheckoutPriceID())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMENT_PROVIDER", "stripe")
	t.Setenv("STRIPE_PRICE_ID", "price_123")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "not-a-number")
	t.Setenv("SWEEP_INTERVAL", "30m")
	t.Setenv("TOKEN_VALIDITY", "bogus")
	t.Setenv("S3_BUCKET", "avatars")

	cfg := Load()

	assert.True(t, cfg.PaymentsEnabled())
	assert.Equal(t, "price_123", cfg.CheckoutPriceID())
	assert.True(t, cfg.MailEnabled())
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, 30*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 48*time.Hour, cfg.TokenValidity)
	assert.True(t, cfg.UploadsEnabled())
}
