package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultLease is how long a dequeued attempt stays invisible to other workers
const DefaultLease = 2 * time.Minute

const attemptColumns = `id, token_id, account_id, token_value, status, attempts, max_attempts,
	lease_id, next_attempt_at, last_attempt_at, last_error, created_at, updated_at`

// PostgresQueue implements Queue on the delivery_attempts table.
// Workers claim rows with FOR UPDATE SKIP LOCKED so they never block each other.
type PostgresQueue struct {
	db    *pgxpool.Pool
	lease time.Duration
}

// NewPostgresQueue creates a new PostgreSQL backed queue
func NewPostgresQueue(db *pgxpool.Pool, lease time.Duration) *PostgresQueue {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &PostgresQueue{db: db, lease: lease}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, a *DeliveryAttempt) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO delivery_attempts (id, token_id, account_id, token_value, status, attempts, max_attempts, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, a.ID, a.TokenID, a.AccountID, a.TokenValue, string(a.Status), a.Attempts, a.MaxAttempts, a.NextAttemptAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Dequeue(ctx context.Context) (*DeliveryAttempt, error) {
	now := time.Now().UTC()
	if err := q.expireFinalLeases(ctx, now); err != nil {
		return nil, err
	}

	query := `
		UPDATE delivery_attempts
		SET status = $1,
			attempts = LEAST(attempts + 1, max_attempts),
			lease_id = $5,
			last_attempt_at = $2,
			next_attempt_at = $3,
			leased_until = $3,
			updated_at = $2
		WHERE id = (
			SELECT id FROM delivery_attempts
			WHERE status IN ($4, $1)
			AND next_attempt_at <= $2
			AND (status = $4 OR attempts < max_attempts)
			ORDER BY next_attempt_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + attemptColumns

	a, err := scanAttempt(q.db.QueryRow(ctx, query, string(StatusInFlight), now, now.Add(q.lease), string(StatusPending), uuid.New()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to dequeue delivery: %w", err)
	}
	return a, nil
}

// expireFinalLeases dead-letters attempts whose lease ran out on the last
// allowed attempt, so an abandoned final send is never started again.
func (q *PostgresQueue) expireFinalLeases(ctx context.Context, now time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE delivery_attempts
		SET status = $1,
			last_error = $2,
			lease_id = NULL,
			leased_until = NULL,
			updated_at = $3
		WHERE status = $4
		AND next_attempt_at <= $3
		AND attempts >= max_attempts
	`, string(StatusFailedPermanently), leaseExpiredReason, now, string(StatusInFlight))
	if err != nil {
		return fmt.Errorf("failed to expire final leases: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Warn("Dead-lettered deliveries whose final lease expired", "count", n)
	}
	return nil
}

func (q *PostgresQueue) Ack(ctx context.Context, a *DeliveryAttempt) error {
	return q.settle(ctx, a, StatusSent, nil, nil)
}

func (q *PostgresQueue) Cancel(ctx context.Context, a *DeliveryAttempt, reason string) error {
	return q.settle(ctx, a, StatusCancelled, nil, &reason)
}

func (q *PostgresQueue) Retry(ctx context.Context, a *DeliveryAttempt, nextAt time.Time, cause error) error {
	return q.settle(ctx, a, StatusPending, &nextAt, errorText(cause))
}

func (q *PostgresQueue) DeadLetter(ctx context.Context, a *DeliveryAttempt, cause error) error {
	return q.settle(ctx, a, StatusFailedPermanently, nil, errorText(cause))
}

// settle transitions a leased attempt. The update only applies while the row
// still carries the caller's lease.
func (q *PostgresQueue) settle(ctx context.Context, a *DeliveryAttempt, status AttemptStatus, nextAt *time.Time, lastError *string) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE delivery_attempts
		SET status = $2,
			next_attempt_at = COALESCE($3, next_attempt_at),
			last_error = $4,
			lease_id = NULL,
			leased_until = NULL,
			updated_at = $5
		WHERE id = $1
		AND status = $6
		AND lease_id = $7
	`, a.ID, string(status), nextAt, lastError, time.Now().UTC(), string(StatusInFlight), a.LeaseID)
	if err != nil {
		return fmt.Errorf("failed to update delivery %s: %w", status, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM delivery_attempts WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check delivery %s: %w", a.ID, err)
	}
	if !exists {
		return ErrAttemptNotFound
	}
	return ErrLeaseLost
}

func (q *PostgresQueue) DeadLetters(ctx context.Context, limit int) ([]*DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + attemptColumns + `
		FROM delivery_attempts
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`
	rows, err := q.db.Query(ctx, query, string(StatusFailedPermanently), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var dead []*DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		dead = append(dead, a)
	}
	return dead, rows.Err()
}

func (q *PostgresQueue) Replay(ctx context.Context, id uuid.UUID) (*DeliveryAttempt, error) {
	now := time.Now().UTC()
	query := `
		UPDATE delivery_attempts
		SET status = $2, attempts = 0, next_attempt_at = $3, updated_at = $3
		WHERE id = $1
		AND status = $4
		RETURNING ` + attemptColumns

	a, err := scanAttempt(q.db.QueryRow(ctx, query, id, string(StatusPending), now, string(StatusFailedPermanently)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to replay delivery: %w", err)
	}
	return a, nil
}

// Get retrieves an attempt by id
func (q *PostgresQueue) Get(ctx context.Context, id uuid.UUID) (*DeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts WHERE id = $1`
	a, err := scanAttempt(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	return a, nil
}

func scanAttempt(row pgx.Row) (*DeliveryAttempt, error) {
	var a DeliveryAttempt
	var status string
	var leaseID *uuid.UUID
	err := row.Scan(
		&a.ID,
		&a.TokenID,
		&a.AccountID,
		&a.TokenValue,
		&status,
		&a.Attempts,
		&a.MaxAttempts,
		&leaseID,
		&a.NextAttemptAt,
		&a.LastAttemptAt,
		&a.LastError,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = AttemptStatus(status)
	if leaseID != nil {
		a.LeaseID = *leaseID
	}
	return &a, nil
}

var _ Queue = (*PostgresQueue)(nil)
