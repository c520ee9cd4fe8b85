package emailverification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-verify/pkg/account"
)

// DefaultRetention is how long finished tokens are kept before purging
const DefaultRetention = 7 * 24 * time.Hour

// Dispatcher hands an issued token to asynchronous delivery. Enqueue must
// not perform mail I/O.
type Dispatcher interface {
	Enqueue(ctx context.Context, accountID uuid.UUID, token *VerificationToken) error
}

// Service drives the account verification state machine
type Service struct {
	accounts   account.Store
	store      Store
	generator  *Generator
	dispatcher Dispatcher
	hasher     account.CredentialHasher
	retention  time.Duration
	now        func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithCredentialHasher sets the hasher applied to passwords on registration
func WithCredentialHasher(h account.CredentialHasher) ServiceOption {
	return func(s *Service) {
		s.hasher = h
	}
}

// WithRetention sets how long consumed, superseded and expired tokens are kept
func WithRetention(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithServiceClock overrides the time source used for expiry checks
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new verification service
func NewService(accounts account.Store, store Store, generator *Generator, dispatcher Dispatcher, opts ...ServiceOption) *Service {
	s := &Service{
		accounts:   accounts,
		store:      store,
		generator:  generator,
		dispatcher: dispatcher,
		hasher:     account.BcryptHasher{},
		retention:  DefaultRetention,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an unverified account, issues its first token and queues
// delivery. A failed enqueue is logged and does not fail registration.
func (s *Service) Register(ctx context.Context, email, password string) (*account.Account, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash credential: %w", err)
	}

	acct, err := s.accounts.Create(ctx, email, hash)
	if err != nil {
		return nil, err
	}
	slog.Info("Account created", "account_id", acct.ID)

	token, err := s.generator.Issue(ctx, acct.ID)
	if err != nil {
		slog.Error("Failed to issue verification token", "account_id", acct.ID, "error", err)
		return acct, nil
	}

	if err := s.dispatcher.Enqueue(ctx, acct.ID, token); err != nil {
		slog.Error("Failed to enqueue verification delivery", "account_id", acct.ID, "token_id", token.ID, "error", err)
		return acct, nil
	}

	s.logTransition(acct.ID, StateUnverified, EventAccountCreated)
	return acct, nil
}

// Verify consumes the token and marks its account verified
func (s *Service) Verify(ctx context.Context, value string) (*account.Account, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}

	acct, err := s.store.Consume(ctx, value, s.now())
	switch {
	case err == nil:
		s.logTransition(acct.ID, StatePendingDelivery, EventTokenValid)
		return acct, nil
	case errors.Is(err, ErrTokenExpired):
		// An expired token of an already verified account is a replay
		if s.ownerVerified(ctx, value) {
			return nil, ErrTokenAlreadyConsumed
		}
		slog.Info("Verification token expired", "error", err)
		return nil, err
	case errors.Is(err, ErrTokenAlreadyConsumed):
		slog.Info("Verification token replayed")
		return nil, err
	case errors.Is(err, ErrTokenNotFound):
		return nil, err
	default:
		slog.Error("Failed to consume verification token", "error", err)
		return nil, err
	}
}

// Resend supersedes the account's token with a new one and queues delivery
func (s *Service) Resend(ctx context.Context, accountID uuid.UUID) (*VerificationToken, error) {
	status, err := s.Status(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if _, err := Next(status.State, EventResendRequested); err != nil {
		return nil, ErrAccountAlreadyVerified
	}

	token, err := s.generator.Issue(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.Enqueue(ctx, accountID, token); err != nil {
		slog.Error("Failed to enqueue verification delivery", "account_id", accountID, "token_id", token.ID, "error", err)
		return nil, fmt.Errorf("failed to enqueue delivery: %w", err)
	}

	s.logTransition(accountID, status.State, EventResendRequested)
	return token, nil
}

// ResendByEmail resolves the account by email and calls Resend
func (s *Service) ResendByEmail(ctx context.Context, email string) error {
	acct, err := s.accounts.GetByEmail(ctx, account.NormalizeEmail(email))
	if err != nil {
		return err
	}
	_, err = s.Resend(ctx, acct.ID)
	return err
}

// Status returns the derived verification state of an account
func (s *Service) Status(ctx context.Context, accountID uuid.UUID) (*VerificationStatus, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return deriveState(ctx, s.store, acct, s.now())
}

// SweepResult reports the work done by one Sweep
type SweepResult struct {
	Expired int64 `json:"expired"`
	Purged  int64 `json:"purged"`
}

// Sweep marks lapsed tokens expired and purges finished tokens past retention
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now()

	expired, err := s.store.ExpireStale(ctx, now)
	if err != nil {
		return res, fmt.Errorf("failed to expire tokens: %w", err)
	}
	res.Expired = expired

	purged, err := s.store.Purge(ctx, now.Add(-s.retention))
	if err != nil {
		return res, fmt.Errorf("failed to purge tokens: %w", err)
	}
	res.Purged = purged

	slog.Info("Verification tokens swept", "expired", res.Expired, "purged", res.Purged)
	return res, nil
}

func (s *Service) ownerVerified(ctx context.Context, value string) bool {
	token, err := s.store.Lookup(ctx, value)
	if err != nil {
		return false
	}
	acct, err := s.accounts.GetByID(ctx, token.AccountID)
	if err != nil {
		return false
	}
	return acct.IsVerified()
}

func (s *Service) logTransition(accountID uuid.UUID, from State, event Event) {
	to, err := Next(from, event)
	if err != nil {
		slog.Warn("Unexpected verification transition", "account_id", accountID, "state", from, "event", event)
		return
	}
	slog.Info("Verification state changed", "account_id", accountID, "from", from, "to", to, "event", event)
}
