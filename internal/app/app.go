package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/templui/linkpage/internal/config"
	"github.com/templui/linkpage/internal/db"
	"github.com/templui/linkpage/internal/repository"
	"github.com/templui/linkpage/internal/scheduler"
	"github.com/templui/linkpage/internal/service"
	"github.com/templui/linkpage/internal/service/payment"
	"github.com/templui/linkpage/internal/storage"
)

type App struct {
	Cfg            *config.Config
	DB             *sqlx.DB
	SessionService *service.SessionService
	AccountService *service.AccountService
	BillingService *service.BillingService
	Moderation     *service.ModerationEngine
	AuditService   *service.AuditService
	TokenService   *service.TokenService
	Reconciler     *service.SubscriptionReconciler
	Scheduler      *scheduler.Runner
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run database migrations
	err = db.RunMigrations(ctx, database.DB, cfg.DBDriver)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Repositories
	accountRepository := repository.NewAccountRepository(database)
	credentialRepository := repository.NewCredentialRepository(database)
	tokenRepository := repository.NewTokenRepository(database)
	auditRepository := repository.NewAuditRepository(database)

	// Storage (nil when uploads are disabled)
	avatarStorage, err := storage.New(ctx, cfg)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Payment gateway (nil when billing is disabled)
	gateway, err := payment.NewGateway(cfg)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize payment gateway: %w", err)
	}

	// Services
	auditService := service.NewAuditService(auditRepository)
	emailService := service.NewEmailService(service.NewMailer(cfg), cfg.AppURL, cfg.AppName)
	tokenService := service.NewTokenService(tokenRepository, accountRepository, auditService, cfg.TokenValidity)
	lifecycle := service.NewLifecycleStateMachine(accountRepository, tokenService, auditService)
	reconciler := service.NewSubscriptionReconciler(accountRepository, credentialRepository, auditService)
	billingService := service.NewBillingService(gateway, credentialRepository, reconciler, cfg.CheckoutPriceID(), cfg.AppURL)
	sessionService := service.NewSessionService(cfg.JWTSecret, cfg.JWTExpiry, cfg.IsProduction())
	accountService := service.NewAccountService(
		accountRepository,
		credentialRepository,
		tokenService,
		lifecycle,
		emailService,
		billingService,
		auditService,
		avatarStorage,
		cfg.UsernameChangeCooldown,
	)
	moderation := service.NewModerationEngine(
		accountRepository,
		credentialRepository,
		lifecycle,
		auditService,
		billingService,
		emailService,
		avatarStorage,
	)

	// Background jobs
	runner := scheduler.New()
	runner.Add("subscription-sweep", cfg.SweepInterval, func(ctx context.Context) error {
		_, err := reconciler.Sweep(ctx)
		return err
	})
	runner.Add("token-purge", cfg.TokenPurgeInterval, func(ctx context.Context) error {
		_, err := tokenService.PurgeExpired(ctx)
		return err
	})

	return &App{
		Cfg:            cfg,
		DB:             database,
		SessionService: sessionService,
		AccountService: accountService,
		BillingService: billingService,
		Moderation:     moderation,
		AuditService:   auditService,
		TokenService:   tokenService,
		Reconciler:     reconciler,
		Scheduler:      runner,
	}, nil
}

func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
