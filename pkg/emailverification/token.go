package emailverification

import (
	"time"

	"github.com/google/uuid"
)

// TokenStatus is the persisted lifecycle status of a verification token
type TokenStatus string

const (
	TokenPending    TokenStatus = "pending"
	TokenConsumed   TokenStatus = "consumed"
	TokenSuperseded TokenStatus = "superseded"
	TokenExpired    TokenStatus = "expired"
)

// VerificationToken represents a single-use email verification token
type VerificationToken struct {
	ID         uuid.UUID   `json:"id"`
	Value      string      `json:"-"`
	AccountID  uuid.UUID   `json:"account_id"`
	Status     TokenStatus `json:"status"`
	IssuedAt   time.Time   `json:"issued_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
	ConsumedAt *time.Time  `json:"consumed_at,omitempty"`
}

// Consumed reports whether the token was used or replaced by a newer one
func (t *VerificationToken) Consumed() bool {
	return t.Status == TokenConsumed || t.Status == TokenSuperseded
}

// IsExpired reports whether the token can no longer be used because its TTL elapsed
func (t *VerificationToken) IsExpired(now time.Time) bool {
	return t.Status == TokenExpired || !now.Before(t.ExpiresAt)
}

// IsActive reports whether the token can still verify its account
func (t *VerificationToken) IsActive(now time.Time) bool {
	return t.Status == TokenPending && now.Before(t.ExpiresAt)
}
