// Package notification renders notice templates and delivers them.
//
// A NotificationManager owns the templates and a single Notifier. The
// bundled EmailNotifier sends over SMTP with github.com/wneessen/go-mail;
// MockNotifier records messages for tests.
//
//	nm, err := notification.NewSMTPNotificationManager(notification.SMTPConfig{
//		Host: "localhost",
//		Port: 1025,
//		From: "noreply@example.com",
//	})
//	err = nm.Send(ctx, notification.EmailVerification, "user@example.com", map[string]string{
//		"VerificationLink": "https://example.com/verify/abc",
//		"ExpiryHours":      "24",
//	})
//
// # Errors
//
// Notifier errors are wrapped with Transient or Permanent. SMTP 5xx replies,
// invalid addresses and template failures are permanent; connection problems
// and 4xx replies are transient. Use IsPermanent to decide whether to retry.
package notification
