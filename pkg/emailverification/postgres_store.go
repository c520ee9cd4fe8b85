package emailverification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-verify/pkg/account"
)

const (
	uniqueViolation      = "23505"
	tokenValueConstraint = "verification_tokens_value_key"
)

const tokenColumns = `id, value, account_id, status, issued_at, expires_at, consumed_at`

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL verification store
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save supersedes the account's pending tokens and inserts t in one transaction.
// The account row lock serializes concurrent issuance for the same account.
func (r *PostgresStore) Save(ctx context.Context, t *VerificationToken) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status string
	err = tx.QueryRow(ctx, `SELECT verification_status FROM accounts WHERE id = $1 FOR UPDATE`, t.AccountID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to lock account: %w", err)
	}
	if account.Status(status) == account.StatusVerified {
		return ErrAccountAlreadyVerified
	}

	_, err = tx.Exec(ctx, `
		UPDATE verification_tokens
		SET status = $2, consumed_at = $3
		WHERE account_id = $1
		AND status = $4
	`, t.AccountID, string(TokenSuperseded), t.IssuedAt, string(TokenPending))
	if err != nil {
		return fmt.Errorf("failed to supersede tokens: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO verification_tokens (id, value, account_id, status, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Value, t.AccountID, string(t.Status), t.IssuedAt, t.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == tokenValueConstraint {
			return ErrDuplicateToken
		}
		return fmt.Errorf("failed to insert token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit token: %w", err)
	}
	return nil
}

// Lookup retrieves a token by value
func (r *PostgresStore) Lookup(ctx context.Context, value string) (*VerificationToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM verification_tokens WHERE value = $1`

	t, err := scanToken(r.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return t, nil
}

// Consume locks the token row, validates it, and marks both the token and
// its account in the same transaction. A concurrent consumer blocks on the
// row lock and then observes the consumed status. Locks are taken account
// first, then token, in the same order as Save.
func (r *PostgresStore) Consume(ctx context.Context, value string, now time.Time) (*account.Account, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var accountID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT account_id FROM verification_tokens WHERE value = $1`, value).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT 1 FROM accounts WHERE id = $1 FOR UPDATE`, accountID); err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	query := `SELECT ` + tokenColumns + ` FROM verification_tokens WHERE value = $1 FOR UPDATE`
	t, err := scanToken(tx.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	switch {
	case t.Consumed():
		return nil, ErrTokenAlreadyConsumed
	case t.IsExpired(now):
		return nil, ErrTokenExpired
	}

	_, err = tx.Exec(ctx, `
		UPDATE verification_tokens
		SET status = $2, consumed_at = $3
		WHERE id = $1
	`, t.ID, string(TokenConsumed), now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}

	acct, err := account.MarkVerifiedTx(ctx, tx, t.AccountID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit verification: %w", err)
	}
	return acct, nil
}

// ActiveForAccount retrieves the pending, unexpired token of an account
func (r *PostgresStore) ActiveForAccount(ctx context.Context, accountID uuid.UUID, now time.Time) (*VerificationToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM verification_tokens
		WHERE account_id = $1
		AND status = $2
		AND expires_at > $3
		ORDER BY issued_at DESC
		LIMIT 1
	`

	t, err := scanToken(r.db.QueryRow(ctx, query, accountID, string(TokenPending), now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return t, nil
}

// ExpireStale marks pending tokens past their expiry as expired
func (r *PostgresStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE verification_tokens
		SET status = $1
		WHERE status = $2
		AND expires_at <= $3
	`, string(TokenExpired), string(TokenPending), now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Purge deletes consumed, superseded and expired tokens older than before
func (r *PostgresStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM verification_tokens
		WHERE status <> $1
		AND COALESCE(consumed_at, expires_at) < $2
	`, string(TokenPending), before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*VerificationToken, error) {
	var t VerificationToken
	var status string
	err := row.Scan(
		&t.ID,
		&t.Value,
		&t.AccountID,
		&status,
		&t.IssuedAt,
		&t.ExpiresAt,
		&t.ConsumedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = TokenStatus(status)
	return &t, nil
}
