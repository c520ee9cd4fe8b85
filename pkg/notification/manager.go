package notification

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// NoticeType identifies a kind of notification (e.g. "email_verification")
type NoticeType string

const (
	EmailVerification NoticeType = "email_verification"
)

// NoticeTemplate holds the templates for one notice type. Text and Html are
// Go templates executed with the notification data.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// NotificationManager renders notice templates and hands the result to a Notifier
type NotificationManager struct {
	notifier  Notifier
	templates map[NoticeType]NoticeTemplate
}

// NewNotificationManager creates a manager delivering through notifier
func NewNotificationManager(notifier Notifier) *NotificationManager {
	return &NotificationManager{
		notifier:  notifier,
		templates: make(map[NoticeType]NoticeTemplate),
	}
}

// RegisterNotification adds or replaces the template for a notice type
func (nm *NotificationManager) RegisterNotification(noticeType NoticeType, tmpl NoticeTemplate) error {
	if noticeType == "" {
		return fmt.Errorf("invalid input: notice type cannot be empty")
	}
	if tmpl.Text == "" && tmpl.Html == "" {
		return fmt.Errorf("invalid input: template for %s needs Text or Html", noticeType)
	}
	nm.templates[noticeType] = tmpl
	return nil
}

// Render produces the message for a notice type without sending it
func (nm *NotificationManager) Render(noticeType NoticeType, to string, data map[string]string) (Message, error) {
	tmpl, ok := nm.templates[noticeType]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, noticeType)
	}

	msg := Message{To: to, Subject: tmpl.Subject}

	if tmpl.Text != "" {
		t, err := texttemplate.New("text").Parse(tmpl.Text)
		if err != nil {
			return Message{}, fmt.Errorf("failed to parse text template: %w", err)
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return Message{}, fmt.Errorf("failed to execute text template: %w", err)
		}
		msg.Text = buf.String()
	}

	if tmpl.Html != "" {
		t, err := htmltemplate.New("html").Parse(tmpl.Html)
		if err != nil {
			return Message{}, fmt.Errorf("failed to parse HTML template: %w", err)
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return Message{}, fmt.Errorf("failed to execute HTML template: %w", err)
		}
		msg.HTML = buf.String()
	}

	return msg, nil
}

// Send renders the notice and delivers it. Rendering failures are permanent.
func (nm *NotificationManager) Send(ctx context.Context, noticeType NoticeType, to string, data map[string]string) error {
	msg, err := nm.Render(noticeType, to, data)
	if err != nil {
		return Permanent(err)
	}
	return nm.notifier.Send(ctx, msg)
}
