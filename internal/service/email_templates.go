package service

import (
	"bytes"
	"fmt"
	"html/template"
)

type emailMessage struct {
	subject string
	text    string
	html    string
}

var emailLayout = template.Must(template.New("email").Parse(`<!doctype html>
<html><body style="font-family: sans-serif; line-height: 1.5">
<p>Hi {{.Username}},</p>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{if .ActionURL}}<p><a href="{{.ActionURL}}">{{.ActionLabel}}</a></p>
{{end}}<p>The {{.AppName}} Team</p>
</body></html>`))

type emailContent struct {
	Username    string
	AppName     string
	Paragraphs  []string
	ActionURL   string
	ActionLabel string
}

// render produces matching plain text and HTML bodies.
func render(subject string, c emailContent) (emailMessage, error) {
	var html bytes.Buffer
	err := emailLayout.Execute(&html, c)
	if err != nil {
		return emailMessage{}, fmt.Errorf("failed to render email: %w", err)
	}

	var text bytes.Buffer
	fmt.Fprintf(&text, "Hi %s,\n\n", c.Username)
	for _, p := range c.Paragraphs {
		fmt.Fprintf(&text, "%s\n\n", p)
	}
	if c.ActionURL != "" {
		fmt.Fprintf(&text, "%s\n\n", c.ActionURL)
	}
	fmt.Fprintf(&text, "The %s Team", c.AppName)

	return emailMessage{subject: subject, text: text.String(), html: html.String()}, nil
}

func verificationEmailTemplate(username, verifyURL, appName string) (emailMessage, error) {
	return render(fmt.Sprintf("Verify your email for %s", appName), emailContent{
		Username: username,
		AppName:  appName,
		Paragraphs: []string{
			"Thanks for signing up. Confirm your email address to activate your page.",
			"This link expires in 48 hours. Accounts that are not verified in time are removed.",
		},
		ActionURL:   verifyURL,
		ActionLabel: "Verify email",
	})
}

func passwordResetEmailTemplate(username, resetURL, appName string) (emailMessage, error) {
	return render(fmt.Sprintf("Reset your password for %s", appName), emailContent{
		Username: username,
		AppName:  appName,
		Paragraphs: []string{
			"You requested to reset your password. Use the link below to choose a new one.",
			"This link expires in 48 hours and can only be used once. If you didn't request this, you can safely ignore this email.",
		},
		ActionURL:   resetURL,
		ActionLabel: "Reset password",
	})
}

func emailChangeNotificationTemplate(username, newEmail, appName string) (emailMessage, error) {
	return render(fmt.Sprintf("Your %s email address was changed", appName), emailContent{
		Username: username,
		AppName:  appName,
		Paragraphs: []string{
			fmt.Sprintf("The email address on your account was changed to %s.", newEmail),
			"If you didn't make this change, reset your password immediately.",
		},
	})
}

func accountDeletedEmailTemplate(username, appName string) (emailMessage, error) {
	return render(fmt.Sprintf("Your %s account was deleted", appName), emailContent{
		Username: username,
		AppName:  appName,
		Paragraphs: []string{
			"Your account and your page have been deleted. Any active subscription has been cancelled.",
		},
	})
}
