package notification

import (
	"context"
	"sync"
)

// MockNotifier records sent messages. It fails the first FailTimes sends
// with FailErr, which defaults to a transient error.
type MockNotifier struct {
	mu        sync.Mutex
	Sent      []Message
	Calls     int
	FailTimes int
	FailErr   error
}

// Send implements Notifier.Send
func (m *MockNotifier) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.Calls <= m.FailTimes {
		if m.FailErr != nil {
			return m.FailErr
		}
		return Transient(errMockFailure)
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

// SentCount returns the number of successful sends
func (m *MockNotifier) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// CallCount returns the number of Send calls
func (m *MockNotifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// LastSent returns the most recent successful message
func (m *MockNotifier) LastSent() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return Message{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}
