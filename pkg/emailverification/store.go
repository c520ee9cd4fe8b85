package emailverification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-verify/pkg/account"
)

// Store persists verification tokens and enforces one-time consumption.
type Store interface {
	// Save supersedes every pending token of the account and inserts t,
	// atomically with respect to other Save calls for the same account.
	Save(ctx context.Context, t *VerificationToken) error

	// Lookup returns the token with the given value in any status.
	Lookup(ctx context.Context, value string) (*VerificationToken, error)

	// Consume checks and consumes the token and marks its account verified
	// in one atomic step. Exactly one concurrent caller can succeed.
	Consume(ctx context.Context, value string, now time.Time) (*account.Account, error)

	// ActiveForAccount returns the pending, unexpired token of the account.
	ActiveForAccount(ctx context.Context, accountID uuid.UUID, now time.Time) (*VerificationToken, error)

	// ExpireStale marks pending tokens past their expiry as expired.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)

	// Purge deletes finished tokens whose consumption or expiry is older than before.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
