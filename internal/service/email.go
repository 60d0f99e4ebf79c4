package service

import (
	"context"
	"fmt"
	"log/slog"
)

// EmailService renders transactional emails and hands them to a Mailer.
// With no mailer configured, messages are logged and reported as sent.
type EmailService struct {
	mailer  Mailer
	appURL  string
	appName string
}

func NewEmailService(mailer Mailer, appURL, appName string) *EmailService {
	return &EmailService{
		mailer:  mailer,
		appURL:  appURL,
		appName: appName,
	}
}

func (s *EmailService) Enabled() bool {
	return s != nil && s.mailer != nil
}

func (s *EmailService) SendVerificationEmail(ctx context.Context, email, username, token string) error {
	verifyURL := fmt.Sprintf("%s/auth/verify/%s", s.appURL, token)
	msg, err := verificationEmailTemplate(username, verifyURL, s.appName)
	if err != nil {
		return err
	}
	return s.send(ctx, "verification", email, msg, "url", verifyURL)
}

func (s *EmailService) SendPasswordResetEmail(ctx context.Context, email, username, token string) error {
	resetURL := fmt.Sprintf("%s/auth/reset/%s", s.appURL, token)
	msg, err := passwordResetEmailTemplate(username, resetURL, s.appName)
	if err != nil {
		return err
	}
	return s.send(ctx, "password_reset", email, msg, "url", resetURL)
}

func (s *EmailService) SendEmailChangeNotification(ctx context.Context, oldEmail, newEmail, username string) error {
	msg, err := emailChangeNotificationTemplate(username, newEmail, s.appName)
	if err != nil {
		return err
	}
	return s.send(ctx, "email_change_notification", oldEmail, msg, "new_email", newEmail)
}

func (s *EmailService) SendAccountDeletedEmail(ctx context.Context, email, username string) error {
	msg, err := accountDeletedEmailTemplate(username, s.appName)
	if err != nil {
		return err
	}
	return s.send(ctx, "account_deleted", email, msg)
}

func (s *EmailService) send(ctx context.Context, kind, to string, msg emailMessage, attrs ...any) error {
	if !s.Enabled() {
		args := append([]any{"type", kind, "to", to, "subject", msg.subject}, attrs...)
		slog.Info("email not sent (no mail transport)", args...)
		return nil
	}

	err := s.mailer.Send(ctx, to, msg.subject, msg.text, msg.html)
	if err != nil {
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}

	slog.Info("email sent", "type", kind, "to", to)
	return nil
}
