package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	AppURL  string
	Port    string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Security
	JWTSecret              string
	JWTExpiry              time.Duration
	TokenValidity          time.Duration
	UsernameChangeCooldown time.Duration
	AuthRateLimit          int // requests per minute per IP on /auth routes

	// Background jobs
	SweepInterval      time.Duration
	TokenPurgeInterval time.Duration

	// Email (Resend takes precedence over SMTP)
	EmailFrom    string
	ResendAPIKey string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	// Payment
	PaymentProvider string // "polar", "stripe" or empty to disable billing
	// Payment - Polar
	PolarAPIKey        string
	PolarWebhookSecret string
	PolarSandboxMode   bool
	PolarProductID     string
	// Payment - Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceID       string

	// Observability (optional)
	SentryDSN string

	// Storage (S3-compatible: MinIO, AWS S3, Cloudflare R2, DigitalOcean Spaces, etc.)
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string // Optional: for S3-compatible services (MinIO, DO Spaces, R2, etc.)
	S3PublicURL string // Optional: CDN in front of the bucket
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	appEnv := envRequired("APP_ENV") // Required: 'development' or 'production'

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "Linkpage"),
		AppEnv:  appEnv,
		AppURL:  envRequired("APP_URL"), // Required: base URL for email links and checkout redirects
		Port:    envString("PORT", "8090"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/linkpage.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"),

		// Security
		JWTSecret:              envRequired("JWT_SECRET"),
		JWTExpiry:              envDuration("JWT_EXPIRY", 168*time.Hour),      // 7 days
		TokenValidity:          envDuration("TOKEN_VALIDITY", 48*time.Hour),   // verification and reset links
		UsernameChangeCooldown: envDuration("USERNAME_CHANGE_COOLDOWN", 168*time.Hour),
		AuthRateLimit:          envInt("AUTH_RATE_LIMIT", 20),

		// Background jobs
		SweepInterval:      envDuration("SWEEP_INTERVAL", 4*time.Hour),
		TokenPurgeInterval: envDuration("TOKEN_PURGE_INTERVAL", 1*time.Hour),

		// Email (optional: without a transport, emails are logged instead of sent)
		EmailFrom:    envString("EMAIL_FROM", "noreply@example.com"),
		ResendAPIKey: envString("RESEND_API_KEY", ""),
		SMTPHost:     envString("SMTP_HOST", ""),
		SMTPPort:     envInt("SMTP_PORT", 587),
		SMTPUsername: envString("SMTP_USERNAME", ""),
		SMTPPassword: envString("SMTP_PASSWORD", ""),

		// Payment (empty provider disables billing)
		PaymentProvider:     envString("PAYMENT_PROVIDER", ""),
		PolarAPIKey:         envString("POLAR_API_KEY", ""),
		PolarWebhookSecret:  envString("POLAR_WEBHOOK_SECRET", ""),
		PolarSandboxMode:    envBool("POLAR_SANDBOX_MODE", appEnv == "development"),
		PolarProductID:      envString("POLAR_PRODUCT_ID", ""),
		StripeSecretKey:     envString("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: envString("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceID:       envString("STRIPE_PRICE_ID", ""),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),

		// Storage (optional: avatar uploads are disabled without a bucket)
		S3Region:    envString("S3_REGION", "us-east-1"),
		S3Bucket:    envString("S3_BUCKET", ""),
		S3AccessKey: envString("S3_ACCESS_KEY", ""),
		S3SecretKey: envString("S3_SECRET_KEY", ""),
		S3Endpoint:  envString("S3_ENDPOINT", ""),
		S3PublicURL: envString("S3_PUBLIC_URL", ""),
	}

	if cfg.IsProduction() {
		validateProduction(cfg)
	}

	return cfg
}

// validateProduction refuses weak secrets and warns about disabled services.
func validateProduction(cfg *Config) {
	if len(cfg.JWTSecret) < 32 {
		slog.Error("production deployment requires a JWT_SECRET of at least 32 characters")
		os.Exit(1)
	}
	if !cfg.MailEnabled() {
		slog.Warn("no mail transport configured, verification and reset emails will only be logged")
	}
	if !cfg.PaymentsEnabled() {
		slog.Warn("no payment provider configured, billing is disabled")
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) PaymentsEnabled() bool {
	return c.PaymentProvider != ""
}

func (c *Config) MailEnabled() bool {
	return c.ResendAPIKey != "" || c.SMTPHost != ""
}

func (c *Config) UploadsEnabled() bool {
	return c.S3Bucket != ""
}

// CheckoutPriceID is the Stripe price or Polar product sold at checkout.
func (c *Config) CheckoutPriceID() string {
	switch c.PaymentProvider {
	case "stripe":
		return c.StripePriceID
	case "polar":
		return c.PolarProductID
	default:
		return ""
	}
}
