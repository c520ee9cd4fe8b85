package notification

import (
	"embed"
	"fmt"
)

//go:embed templates/*
var templateFiles embed.FS

func loadTemplate(filename string) (string, error) {
	content, err := templateFiles.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", filename, err)
	}
	return string(content), nil
}

// NotificationManagerOption is a function that configures a NotificationManager
type NotificationManagerOption func(*NotificationManager) error

// WithEmailVerificationTemplate registers the bundled email verification template.
// Data keys: VerificationLink, ExpiryHours.
func WithEmailVerificationTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		html, err := loadTemplate("templates/email/email_verification.html")
		if err != nil {
			return err
		}
		text, err := loadTemplate("templates/email/email_verification.txt")
		if err != nil {
			return err
		}
		return nm.RegisterNotification(EmailVerification, NoticeTemplate{
			Subject: "Verify Your Email Address",
			Text:    text,
			Html:    html,
		})
	}
}

// WithTemplate registers a custom template for a notice type
func WithTemplate(noticeType NoticeType, tmpl NoticeTemplate) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(noticeType, tmpl)
	}
}

// NewNotificationManagerWithOptions creates a notification manager with the provided options
func NewNotificationManagerWithOptions(notifier Notifier, opts ...NotificationManagerOption) (*NotificationManager, error) {
	nm := NewNotificationManager(notifier)
	for _, opt := range opts {
		if err := opt(nm); err != nil {
			return nil, err
		}
	}
	return nm, nil
}

// NewSMTPNotificationManager creates a manager sending the default templates over SMTP
func NewSMTPNotificationManager(config SMTPConfig) (*NotificationManager, error) {
	notifier, err := NewEmailNotifier(config)
	if err != nil {
		return nil, err
	}
	return NewNotificationManagerWithOptions(notifier, WithEmailVerificationTemplate())
}
