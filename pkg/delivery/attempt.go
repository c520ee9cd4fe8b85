package delivery

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus is the lifecycle status of a queued delivery
type AttemptStatus string

const (
	StatusPending           AttemptStatus = "pending"
	StatusInFlight          AttemptStatus = "in_flight"
	StatusSent              AttemptStatus = "sent"
	StatusCancelled         AttemptStatus = "cancelled"
	StatusFailedPermanently AttemptStatus = "failed_permanently"
)

var (
	// ErrQueueEmpty is returned by Dequeue when nothing is ready
	ErrQueueEmpty = errors.New("delivery queue empty")

	// ErrAttemptNotFound is returned when no delivery attempt matches the id
	ErrAttemptNotFound = errors.New("delivery attempt not found")

	// ErrLeaseLost is returned when settling a lease that expired and was
	// handed to another worker or already settled
	ErrLeaseLost = errors.New("delivery lease lost")
)

// leaseExpiredReason is recorded on attempts whose last lease ran out at the
// attempt ceiling
const leaseExpiredReason = "lease expired on final attempt"

// DeliveryAttempt is one queued verification email and its retry state.
// Attempts counts sends started so far and never exceeds MaxAttempts.
// LeaseID identifies the current lease and changes on every Dequeue.
type DeliveryAttempt struct {
	ID            uuid.UUID     `json:"id"`
	TokenID       uuid.UUID     `json:"token_id"`
	AccountID     uuid.UUID     `json:"account_id"`
	TokenValue    string        `json:"token_value"`
	Status        AttemptStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	LeaseID       uuid.UUID     `json:"lease_id"`
	MaxAttempts   int           `json:"max_attempts"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
	LastError     *string       `json:"last_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Exhausted reports whether no retry is left
func (a *DeliveryAttempt) Exhausted() bool {
	return a.Attempts >= a.MaxAttempts
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
