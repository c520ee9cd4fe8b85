package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository implements Store using in-memory storage
type InMemoryRepository struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
	byEmail  map[string]uuid.UUID
	now      func() time.Time
}

// NewInMemoryRepository creates a new in-memory account repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		accounts: make(map[uuid.UUID]Account),
		byEmail:  make(map[string]uuid.UUID),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new unverified account
func (r *InMemoryRepository) Create(ctx context.Context, email string, credentialHash []byte) (*Account, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return nil, ErrAccountExists
	}

	now := r.now()
	acct := Account{
		ID:             uuid.New(),
		Email:          email,
		CredentialHash: append([]byte(nil), credentialHash...),
		Status:         StatusUnverified,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.accounts[acct.ID] = acct
	r.byEmail[email] = acct.ID

	return &acct, nil
}

// GetByID returns a copy of the account with the given id
func (r *InMemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &acct, nil
}

// GetByEmail returns a copy of the account registered under email
func (r *InMemoryRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	acct := r.accounts[id]
	return &acct, nil
}

// MarkVerified flips the account to verified. Calling it on a verified
// account keeps the original verification time.
func (r *InMemoryRepository) MarkVerified(ctx context.Context, id uuid.UUID) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}

	if acct.Status != StatusVerified {
		now := r.now()
		acct.Status = StatusVerified
		acct.VerifiedAt = &now
		acct.UpdatedAt = now
		r.accounts[id] = acct
	}

	return &acct, nil
}
