package emailverification

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-verify/pkg/account"
)

const (
	DefaultTokenBytes = 32
	MinTokenBytes     = 16
	DefaultTokenTTL   = 24 * time.Hour

	maxIssueAttempts = 3
)

// Generator issues verification tokens and stores them through a Store
type Generator struct {
	store      Store
	accounts   account.Store
	tokenBytes int
	ttl        time.Duration
	now        func() time.Time
	random     io.Reader
}

// GeneratorOption configures a Generator
type GeneratorOption func(*Generator)

// WithTokenBytes sets the number of random bytes per token.
// Values below MinTokenBytes are raised to MinTokenBytes.
func WithTokenBytes(n int) GeneratorOption {
	return func(g *Generator) {
		if n < MinTokenBytes {
			n = MinTokenBytes
		}
		g.tokenBytes = n
	}
}

// WithTokenTTL sets how long an issued token stays valid
func WithTokenTTL(ttl time.Duration) GeneratorOption {
	return func(g *Generator) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// WithRandom overrides the entropy source. Tests use it to force collisions.
func WithRandom(r io.Reader) GeneratorOption {
	return func(g *Generator) {
		g.random = r
	}
}

// NewGenerator creates a new token generator
func NewGenerator(store Store, accounts account.Store, opts ...GeneratorOption) *Generator {
	g := &Generator{
		store:      store,
		accounts:   accounts,
		tokenBytes: DefaultTokenBytes,
		ttl:        DefaultTokenTTL,
		now:        func() time.Time { return time.Now().UTC() },
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TTL returns the validity window of issued tokens
func (g *Generator) TTL() time.Duration {
	return g.ttl
}

// NewValue returns a fresh URL-safe random token value
func (g *Generator) NewValue() (string, error) {
	b := make([]byte, g.tokenBytes)
	if _, err := io.ReadFull(g.random, b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates a token for the account, superseding any active token.
// A value collision is retried with fresh randomness.
func (g *Generator) Issue(ctx context.Context, accountID uuid.UUID) (*VerificationToken, error) {
	acct, err := g.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.IsVerified() {
		return nil, ErrAccountAlreadyVerified
	}

	for attempt := 1; ; attempt++ {
		value, err := g.NewValue()
		if err != nil {
			return nil, err
		}

		issuedAt := g.now()
		token := &VerificationToken{
			ID:        uuid.New(),
			Value:     value,
			AccountID: accountID,
			Status:    TokenPending,
			IssuedAt:  issuedAt,
			ExpiresAt: issuedAt.Add(g.ttl),
		}

		err = g.store.Save(ctx, token)
		if err == nil {
			slog.Info("Verification token issued", "account_id", accountID, "expires_at", token.ExpiresAt)
			return token, nil
		}
		if !errors.Is(err, ErrDuplicateToken) || attempt >= maxIssueAttempts {
			return nil, err
		}
		slog.Warn("Verification token collision, regenerating", "account_id", accountID, "attempt", attempt)
	}
}
