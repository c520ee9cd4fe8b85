package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-verify/pkg/pgtest"
)

func newAttempt(maxAttempts int) *DeliveryAttempt {
	now := time.Now().UTC().Add(-time.Second)
	return &DeliveryAttempt{
		ID:            uuid.New(),
		TokenID:       uuid.New(),
		AccountID:     uuid.New(),
		TokenValue:    uuid.NewString(),
		Status:        StatusPending,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// expireLease moves an attempt's lease deadline into the past
func expireLease(t *testing.T, pool *pgxpool.Pool, id uuid.UUID) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`UPDATE delivery_attempts SET next_attempt_at = $2 WHERE id = $1`, id, time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)
}

func TestPostgresQueue(t *testing.T) {
	pool := pgtest.NewPool(t)
	q := NewPostgresQueue(pool, time.Minute)
	ctx := context.Background()

	t.Run("EmptyQueue", func(t *testing.T) {
		_, err := q.Dequeue(ctx)
		assert.ErrorIs(t, err, ErrQueueEmpty)
	})

	t.Run("DequeueLeasesAndCounts", func(t *testing.T) {
		a := newAttempt(3)
		require.NoError(t, q.Enqueue(ctx, a))

		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, StatusInFlight, got.Status)
		assert.Equal(t, 1, got.Attempts)
		assert.NotNil(t, got.LastAttemptAt)

		// leased rows are invisible until the lease expires
		_, err = q.Dequeue(ctx)
		assert.ErrorIs(t, err, ErrQueueEmpty)

		require.NoError(t, q.Ack(ctx, got))
		stored, err := q.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusSent, stored.Status)
	})

	t.Run("RetrySchedulesLater", func(t *testing.T) {
		a := newAttempt(3)
		require.NoError(t, q.Enqueue(ctx, a))
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)

		require.NoError(t, q.Retry(ctx, got, time.Now().Add(time.Hour), errors.New("421 try later")))
		_, err = q.Dequeue(ctx)
		assert.ErrorIs(t, err, ErrQueueEmpty)

		stored, err := q.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)
		require.NotNil(t, stored.LastError)
		assert.Equal(t, "421 try later", *stored.LastError)

		expireLease(t, pool, a.ID)
		again, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, again.Attempts)
		require.NoError(t, q.Cancel(ctx, again, "account already verified"))
	})

	t.Run("DeadLetterAndReplay", func(t *testing.T) {
		a := newAttempt(1)
		require.NoError(t, q.Enqueue(ctx, a))
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, q.DeadLetter(ctx, got, errors.New("550 no such user")))

		dead, err := q.DeadLetters(ctx, 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, a.ID, dead[0].ID)
		assert.Equal(t, 1, dead[0].Attempts)

		replayed, err := q.Replay(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, replayed.Status)
		assert.Equal(t, 0, replayed.Attempts)

		_, err = q.Replay(ctx, a.ID)
		assert.ErrorIs(t, err, ErrAttemptNotFound)

		got, err = q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, got))
	})

	t.Run("SettleUnknown", func(t *testing.T) {
		err := q.Ack(ctx, &DeliveryAttempt{ID: uuid.New()})
		assert.ErrorIs(t, err, ErrAttemptNotFound)
	})

	t.Run("StaleLeaseCannotSettle", func(t *testing.T) {
		a := newAttempt(3)
		require.NoError(t, q.Enqueue(ctx, a))
		first, err := q.Dequeue(ctx)
		require.NoError(t, err)

		expireLease(t, pool, a.ID)
		second, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, a.ID, second.ID)
		assert.Equal(t, 2, second.Attempts)
		assert.NotEqual(t, first.LeaseID, second.LeaseID)

		assert.ErrorIs(t, q.Retry(ctx, first, time.Now(), errors.New("timeout")), ErrLeaseLost)
		require.NoError(t, q.Ack(ctx, second))
		assert.ErrorIs(t, q.Retry(ctx, first, time.Now(), errors.New("timeout")), ErrLeaseLost)
		assert.ErrorIs(t, q.Ack(ctx, second), ErrLeaseLost)

		stored, err := q.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusSent, stored.Status)
		_, err = q.Dequeue(ctx)
		assert.ErrorIs(t, err, ErrQueueEmpty)
	})

	t.Run("FinalLeaseExpiryDeadLetters", func(t *testing.T) {
		a := newAttempt(1)
		require.NoError(t, q.Enqueue(ctx, a))
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Attempts)

		expireLease(t, pool, a.ID)
		_, err = q.Dequeue(ctx)
		assert.ErrorIs(t, err, ErrQueueEmpty)

		stored, err := q.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailedPermanently, stored.Status)
		assert.Equal(t, 1, stored.Attempts)
		require.NotNil(t, stored.LastError)
		assert.Equal(t, leaseExpiredReason, *stored.LastError)

		assert.ErrorIs(t, q.Ack(ctx, got), ErrLeaseLost)
	})

	t.Run("ConcurrentDequeueClaimsEachRowOnce", func(t *testing.T) {
		const n = 10
		for i := 0; i < n; i++ {
			require.NoError(t, q.Enqueue(ctx, newAttempt(3)))
		}

		var mu sync.Mutex
		seen := make(map[uuid.UUID]int)
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					a, err := q.Dequeue(ctx)
					if errors.Is(err, ErrQueueEmpty) {
						return
					}
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					seen[a.ID]++
					mu.Unlock()
					assert.NoError(t, q.Ack(ctx, a))
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, n)
		for id, count := range seen {
			assert.Equal(t, 1, count, "attempt %s claimed twice", id)
		}
	})
}
