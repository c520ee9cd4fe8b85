package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the verification status stored on an account.
type Status string

const (
	StatusUnverified Status = "unverified"
	StatusVerified   Status = "verified"
)

var (
	// ErrAccountNotFound is returned when no account matches the lookup
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when the email is already registered
	ErrAccountExists = errors.New("account already exists")

	// ErrInvalidEmail is returned when the email is empty after normalization
	ErrInvalidEmail = errors.New("invalid email address")
)

// Account is the identity record owned by the account store.
type Account struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	CredentialHash []byte     `json:"-"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
}

// IsVerified reports whether the account finished email verification
func (a *Account) IsVerified() bool {
	return a.Status == StatusVerified
}

// Store is the account storage collaborator used by the verification core.
type Store interface {
	Create(ctx context.Context, email string, credentialHash []byte) (*Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	MarkVerified(ctx context.Context, id uuid.UUID) (*Account, error)
}

// NormalizeEmail trims and lower-cases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
