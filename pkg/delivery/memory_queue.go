package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue implements Queue in process memory
type MemoryQueue struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*DeliveryAttempt
	lease    time.Duration
	now      func() time.Time
}

// NewMemoryQueue creates an in-memory queue whose leases last lease
func NewMemoryQueue(lease time.Duration) *MemoryQueue {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &MemoryQueue{
		attempts: make(map[uuid.UUID]*DeliveryAttempt),
		lease:    lease,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Enqueue(ctx context.Context, attempt *DeliveryAttempt) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored := *attempt
	q.attempts[stored.ID] = &stored
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*DeliveryAttempt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var next *DeliveryAttempt
	for _, a := range q.attempts {
		if a.Status != StatusPending && a.Status != StatusInFlight {
			continue
		}
		if a.NextAttemptAt.After(now) {
			continue
		}
		if a.Status == StatusInFlight && a.Exhausted() {
			reason := leaseExpiredReason
			a.Status = StatusFailedPermanently
			a.LastError = &reason
			a.LeaseID = uuid.Nil
			a.UpdatedAt = now
			continue
		}
		if next == nil || a.NextAttemptAt.Before(next.NextAttemptAt) {
			next = a
		}
	}
	if next == nil {
		return nil, ErrQueueEmpty
	}

	startedAt := now
	next.Status = StatusInFlight
	next.Attempts = min(next.Attempts+1, next.MaxAttempts)
	next.LeaseID = uuid.New()
	next.LastAttemptAt = &startedAt
	next.NextAttemptAt = now.Add(q.lease)
	next.UpdatedAt = now

	leased := *next
	return &leased, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, attempt *DeliveryAttempt) error {
	return q.settle(attempt, func(a *DeliveryAttempt, now time.Time) {
		a.Status = StatusSent
		a.LastError = nil
	})
}

func (q *MemoryQueue) Cancel(ctx context.Context, attempt *DeliveryAttempt, reason string) error {
	return q.settle(attempt, func(a *DeliveryAttempt, now time.Time) {
		a.Status = StatusCancelled
		a.LastError = &reason
	})
}

func (q *MemoryQueue) Retry(ctx context.Context, attempt *DeliveryAttempt, nextAt time.Time, cause error) error {
	return q.settle(attempt, func(a *DeliveryAttempt, now time.Time) {
		a.Status = StatusPending
		a.NextAttemptAt = nextAt
		a.LastError = errorText(cause)
	})
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, attempt *DeliveryAttempt, cause error) error {
	return q.settle(attempt, func(a *DeliveryAttempt, now time.Time) {
		a.Status = StatusFailedPermanently
		a.LastError = errorText(cause)
	})
}

func (q *MemoryQueue) DeadLetters(ctx context.Context, limit int) ([]*DeliveryAttempt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dead []*DeliveryAttempt
	for _, a := range q.attempts {
		if a.Status == StatusFailedPermanently {
			aCopy := *a
			dead = append(dead, &aCopy)
		}
	}
	sort.Slice(dead, func(i, j int) bool {
		return dead[i].UpdatedAt.After(dead[j].UpdatedAt)
	})
	if limit > 0 && len(dead) > limit {
		dead = dead[:limit]
	}
	return dead, nil
}

func (q *MemoryQueue) Replay(ctx context.Context, id uuid.UUID) (*DeliveryAttempt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.attempts[id]
	if !ok || a.Status != StatusFailedPermanently {
		return nil, ErrAttemptNotFound
	}

	now := q.now()
	a.Status = StatusPending
	a.Attempts = 0
	a.NextAttemptAt = now
	a.UpdatedAt = now

	aCopy := *a
	return &aCopy, nil
}

// Get returns a copy of the attempt with the given id
func (q *MemoryQueue) Get(id uuid.UUID) (*DeliveryAttempt, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	aCopy := *a
	return &aCopy, nil
}

// List returns copies of all attempts ordered by creation time
func (q *MemoryQueue) List() []*DeliveryAttempt {
	q.mu.Lock()
	defer q.mu.Unlock()

	all := make([]*DeliveryAttempt, 0, len(q.attempts))
	for _, a := range q.attempts {
		aCopy := *a
		all = append(all, &aCopy)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all
}

// settle applies a terminal or retry transition to the leased attempt. Only
// the holder of the current lease may settle it.
func (q *MemoryQueue) settle(leased *DeliveryAttempt, apply func(a *DeliveryAttempt, now time.Time)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.attempts[leased.ID]
	if !ok {
		return ErrAttemptNotFound
	}
	if a.Status != StatusInFlight || a.LeaseID != leased.LeaseID {
		return ErrLeaseLost
	}
	now := q.now()
	apply(a, now)
	a.LeaseID = uuid.Nil
	a.UpdatedAt = now
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
