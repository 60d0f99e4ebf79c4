package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
	"github.com/templui/linkpage/internal/config"
	"gopkg.in/gomail.v2"
)

// Mailer delivers one message. Implementations do not retry.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// NewMailer picks Resend, then SMTP. It returns nil when neither is configured,
// in which case EmailService only logs what it would have sent.
func NewMailer(cfg *config.Config) Mailer {
	switch {
	case cfg.ResendAPIKey != "":
		slog.Info("mail transport: resend")
		return NewResendMailer(cfg.ResendAPIKey, cfg.EmailFrom)
	case cfg.SMTPHost != "":
		slog.Info("mail transport: smtp", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
		return NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.EmailFrom)
	default:
		slog.Info("mail transport: none, emails will be logged")
		return nil
	}
}

type ResendMailer struct {
	client *resend.Client
	from   string
}

func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

func (m *ResendMailer) Send(ctx context.Context, to, subject, text, html string) error {
	params := &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		Text:    text,
		Html:    html,
	}

	_, err := m.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// Send ignores ctx; gomail dials synchronously.
func (m *SMTPMailer) Send(_ context.Context, to, subject, text, html string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", text)
	if html != "" {
		msg.AddAlternative("text/html", html)
	}

	err := m.dialer.DialAndSend(msg)
	if err != nil {
		return fmt.Errorf("smtp: %w", err)
	}
	return nil
}
