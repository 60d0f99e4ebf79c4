package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/repository"
	"github.com/templui/linkpage/internal/service/payment"
)

// SubscriptionReconciler keeps paid and subscription_expiry accurate. Every
// write is an absolute assignment so sweeps and webhooks may interleave freely.
type SubscriptionReconciler struct {
	accountRepository    repository.AccountRepository
	credentialRepository repository.CredentialRepository
	auditService         *AuditService
	now                  func() time.Time
}

func NewSubscriptionReconciler(
	accountRepository repository.AccountRepository,
	credentialRepository repository.CredentialRepository,
	auditService *AuditService,
) *SubscriptionReconciler {
	return &SubscriptionReconciler{
		accountRepository:    accountRepository,
		credentialRepository: credentialRepository,
		auditService:         auditService,
		now:                  time.Now,
	}
}

// Sweep downgrades paid accounts whose dated expiry is before today.
func (r *SubscriptionReconciler) Sweep(ctx context.Context) (int64, error) {
	today := model.ExpiryFromTime(r.now())

	n, err := r.accountRepository.ExpireLapsed(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("failed to expire lapsed subscriptions: %w", err)
	}

	if n > 0 {
		slog.Info("lapsed subscriptions expired", "count", n, "today", today)
		r.auditService.Record(ctx, fmt.Sprintf("subscription sweep downgraded %d account(s)", n))
	}
	return n, nil
}

// HandleEvent merges a verified gateway event into account state. An unknown
// customer yields ErrUnknownCustomer without touching anything.
func (r *SubscriptionReconciler) HandleEvent(ctx context.Context, event *payment.Event) error {
	if event.Type == payment.EventIgnored {
		slog.Debug("webhook event ignored", "event_type", event.ProviderType)
		return nil
	}

	credential, err := r.credentialRepository.ByPaymentCustomerID(ctx, event.CustomerID)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		slog.Warn("webhook for unknown customer", "customer_id", event.CustomerID, "event_type", event.ProviderType)
		return wrapError(ErrUnknownCustomer, fmt.Errorf("customer %q", event.CustomerID))
	}
	if err != nil {
		return fmt.Errorf("failed to look up customer: %w", err)
	}
	username := credential.Username

	switch event.Type {
	case payment.EventPaymentSucceeded:
		return r.paymentSucceeded(ctx, username)
	case payment.EventSubscriptionStatusChanged:
		return r.statusChanged(ctx, username, event)
	default:
		return fmt.Errorf("unsupported event type %q", event.Type)
	}
}

// paymentSucceeded sets the expiry to one year from today. Replaying the event
// on the same day converges to the same row.
func (r *SubscriptionReconciler) paymentSucceeded(ctx context.Context, username string) error {
	expiry := model.ExpiryFromTime(r.now().AddDate(1, 0, 0))

	err := r.accountRepository.MarkPaidUntil(ctx, username, expiry)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return wrapError(ErrUnknownCustomer, err)
	}
	if err != nil {
		return fmt.Errorf("failed to mark account paid: %w", err)
	}

	paid, err := r.accountRepository.CountPaid(ctx)
	if err != nil {
		slog.Warn("failed to count paid accounts", "error", err)
	}

	slog.Info("payment succeeded", "username", username, "expiry", expiry)
	r.auditService.Record(ctx, fmt.Sprintf("payment received from %s, paid until %s (%d paid accounts)", username, expiry, paid))
	return nil
}

func (r *SubscriptionReconciler) statusChanged(ctx context.Context, username string, event *payment.Event) error {
	if event.Status == payment.StatusUnpaid {
		changed, err := r.accountRepository.MarkUnpaid(ctx, username)
		if err != nil {
			return fmt.Errorf("failed to mark account unpaid: %w", err)
		}
		if !changed {
			slog.Info("unpaid event left forever subscription in place", "username", username)
			return nil
		}
		r.auditService.Record(ctx, fmt.Sprintf("subscription for %s became unpaid, entitlement removed", username))
		return nil
	}

	if event.CancelAtPeriodEnd {
		periodEnd := "the end of the period"
		if !event.PeriodEnd.IsZero() {
			periodEnd = event.PeriodEnd.Format("2006-01-02")
		}
		r.auditService.Record(ctx, fmt.Sprintf("subscription for %s will cancel at %s", username, periodEnd))
		return nil
	}

	slog.Debug("subscription status change ignored", "username", username, "status", event.Status)
	return nil
}
