package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const accountColumns = `id, email, credential_hash, verification_status, created_at, updated_at, verified_at`

// PostgresRepository implements Store on the accounts table
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new account repository backed by PostgreSQL
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new unverified account
func (r *PostgresRepository) Create(ctx context.Context, email string, credentialHash []byte) (*Account, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}

	query := `
		INSERT INTO accounts (id, email, credential_hash, verification_status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + accountColumns

	acct, err := ScanAccount(r.db.QueryRow(ctx, query, uuid.New(), email, credentialHash, string(StatusUnverified)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return acct, nil
}

// GetByID retrieves an account by id
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByEmail retrieves an account by normalized email
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return r.getOne(ctx, query, NormalizeEmail(email))
}

// MarkVerified sets the verification status. The verification time of an
// already verified account is preserved.
func (r *PostgresRepository) MarkVerified(ctx context.Context, id uuid.UUID) (*Account, error) {
	return MarkVerifiedTx(ctx, r.db, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*Account, error) {
	acct, err := ScanAccount(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return acct, nil
}

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MarkVerifiedTx marks the account verified using q, which may be a
// transaction owned by the caller.
func MarkVerifiedTx(ctx context.Context, q Querier, id uuid.UUID) (*Account, error) {
	query := `
		UPDATE accounts
		SET verification_status = $2,
		    verified_at = COALESCE(verified_at, NOW() AT TIME ZONE 'UTC'),
		    updated_at = NOW() AT TIME ZONE 'UTC'
		WHERE id = $1
		RETURNING ` + accountColumns

	acct, err := ScanAccount(q.QueryRow(ctx, query, id, string(StatusVerified)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to mark account verified: %w", err)
	}
	return acct, nil
}

// ScanAccount reads a row selected with the standard account column list
func ScanAccount(row pgx.Row) (*Account, error) {
	var acct Account
	var status string
	err := row.Scan(
		&acct.ID,
		&acct.Email,
		&acct.CredentialHash,
		&status,
		&acct.CreatedAt,
		&acct.UpdatedAt,
		&acct.VerifiedAt,
	)
	if err != nil {
		return nil, err
	}
	acct.Status = Status(status)
	return &acct, nil
}
