package emailverification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-verify/pkg/account"
)

// MemoryStore implements Store in process memory. All checks and
// mutations happen under one mutex, which gives Save and Consume the same
// atomicity the PostgreSQL store gets from row locks.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  account.Store
	tokens    map[string]*VerificationToken    // Key: token value
	byAccount map[uuid.UUID][]*VerificationToken // Key: account ID
}

// NewMemoryStore creates a new in-memory verification store. Consume
// marks accounts verified through accounts.
func NewMemoryStore(accounts account.Store) *MemoryStore {
	return &MemoryStore{
		accounts:  accounts,
		tokens:    make(map[string]*VerificationToken),
		byAccount: make(map[uuid.UUID][]*VerificationToken),
	}
}

// Save supersedes pending tokens of the account and stores t
func (r *MemoryStore) Save(ctx context.Context, t *VerificationToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, err := r.accounts.GetByID(ctx, t.AccountID)
	if err != nil {
		return err
	}
	if acct.IsVerified() {
		return ErrAccountAlreadyVerified
	}

	if _, exists := r.tokens[t.Value]; exists {
		return ErrDuplicateToken
	}

	for _, existing := range r.byAccount[t.AccountID] {
		if existing.Status == TokenPending {
			consumedAt := t.IssuedAt
			existing.Status = TokenSuperseded
			existing.ConsumedAt = &consumedAt
		}
	}

	stored := *t
	r.tokens[t.Value] = &stored
	r.byAccount[t.AccountID] = append(r.byAccount[t.AccountID], &stored)
	return nil
}

// Lookup returns a copy of the token with the given value
func (r *MemoryStore) Lookup(ctx context.Context, value string) (*VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[value]
	if !ok {
		return nil, ErrTokenNotFound
	}
	tCopy := *t
	return &tCopy, nil
}

// Consume validates and consumes the token, then marks the account verified.
// If the account update fails the token is restored to pending.
func (r *MemoryStore) Consume(ctx context.Context, value string, now time.Time) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[value]
	if !ok {
		return nil, ErrTokenNotFound
	}

	switch {
	case t.Consumed():
		return nil, ErrTokenAlreadyConsumed
	case t.IsExpired(now):
		return nil, ErrTokenExpired
	}

	consumedAt := now
	t.Status = TokenConsumed
	t.ConsumedAt = &consumedAt

	acct, err := r.accounts.MarkVerified(ctx, t.AccountID)
	if err != nil {
		t.Status = TokenPending
		t.ConsumedAt = nil
		return nil, err
	}
	return acct, nil
}

// ActiveForAccount returns the pending, unexpired token of the account
func (r *MemoryStore) ActiveForAccount(ctx context.Context, accountID uuid.UUID, now time.Time) (*VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.byAccount[accountID] {
		if t.IsActive(now) {
			tCopy := *t
			return &tCopy, nil
		}
	}
	return nil, ErrTokenNotFound
}

// ExpireStale marks pending tokens past their expiry as expired
func (r *MemoryStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, t := range r.tokens {
		if t.Status == TokenPending && !now.Before(t.ExpiresAt) {
			t.Status = TokenExpired
			n++
		}
	}
	return n, nil
}

// Purge deletes finished tokens whose consumption or expiry is older than before
func (r *MemoryStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for value, t := range r.tokens {
		if t.Status == TokenPending {
			continue
		}
		finishedAt := t.ExpiresAt
		if t.ConsumedAt != nil {
			finishedAt = *t.ConsumedAt
		}
		if finishedAt.Before(before) {
			delete(r.tokens, value)
			r.removeFromAccount(t)
			n++
		}
	}
	return n, nil
}

func (r *MemoryStore) removeFromAccount(t *VerificationToken) {
	list := r.byAccount[t.AccountID]
	for i, existing := range list {
		if existing == t {
			r.byAccount[t.AccountID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.byAccount[t.AccountID]) == 0 {
		delete(r.byAccount, t.AccountID)
	}
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
