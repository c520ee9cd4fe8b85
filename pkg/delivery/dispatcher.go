package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-verify/pkg/emailverification"
)

// DefaultMaxAttempts is the delivery attempt ceiling
const DefaultMaxAttempts = 5

// Dispatcher records issued tokens on the queue. It performs no mail I/O.
type Dispatcher struct {
	queue       Queue
	maxAttempts int
	now         func() time.Time
}

// NewDispatcher creates a dispatcher writing to queue
func NewDispatcher(queue Queue, maxAttempts int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		queue:       queue,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Enqueue implements emailverification.Dispatcher
func (d *Dispatcher) Enqueue(ctx context.Context, accountID uuid.UUID, token *emailverification.VerificationToken) error {
	now := d.now()
	return d.queue.Enqueue(ctx, &DeliveryAttempt{
		ID:            uuid.New(),
		TokenID:       token.ID,
		AccountID:     accountID,
		TokenValue:    token.Value,
		Status:        StatusPending,
		MaxAttempts:   d.maxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

var _ emailverification.Dispatcher = (*Dispatcher)(nil)
