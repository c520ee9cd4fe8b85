package notification

import "context"

// Message is a fully rendered notification ready for a transport
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Notifier delivers a rendered message. Errors should be wrapped with
// Transient or Permanent so callers can decide whether to retry.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
