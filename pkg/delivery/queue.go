package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queue is the durable store of pending deliveries.
//
// Dequeue leases the next ready attempt and counts it as started. The lease
// must be settled with exactly one of Ack, Cancel, Retry or DeadLetter; an
// unsettled lease becomes visible again once it expires. Settling a lease that
// expired and was reclaimed returns ErrLeaseLost. A lease that expires on the
// final attempt is dead-lettered rather than handed out again.
type Queue interface {
	Enqueue(ctx context.Context, attempt *DeliveryAttempt) error
	Dequeue(ctx context.Context) (*DeliveryAttempt, error)
	Ack(ctx context.Context, attempt *DeliveryAttempt) error
	Cancel(ctx context.Context, attempt *DeliveryAttempt, reason string) error
	Retry(ctx context.Context, attempt *DeliveryAttempt, nextAt time.Time, cause error) error
	DeadLetter(ctx context.Context, attempt *DeliveryAttempt, cause error) error

	// DeadLetters lists attempts that failed permanently, newest first
	DeadLetters(ctx context.Context, limit int) ([]*DeliveryAttempt, error)
	// Replay moves a dead-lettered attempt back to pending with a fresh budget
	Replay(ctx context.Context, id uuid.UUID) (*DeliveryAttempt, error)
}
