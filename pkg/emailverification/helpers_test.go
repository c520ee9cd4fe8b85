package emailverification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-verify/pkg/account"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingDispatcher keeps every enqueued token
type recordingDispatcher struct {
	mu     sync.Mutex
	tokens []*VerificationToken
	err    error
}

func (d *recordingDispatcher) Enqueue(ctx context.Context, accountID uuid.UUID, token *VerificationToken) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tokens = append(d.tokens, token)
	return nil
}

func (d *recordingDispatcher) last(t *testing.T) *VerificationToken {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.tokens)
	return d.tokens[len(d.tokens)-1]
}

type fixture struct {
	clock      *fakeClock
	accounts   *account.InMemoryRepository
	store      *MemoryStore
	generator  *Generator
	dispatcher *recordingDispatcher
	service    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:      newFakeClock(),
		accounts:   account.NewInMemoryRepository(),
		dispatcher: &recordingDispatcher{},
	}
	f.store = NewMemoryStore(f.accounts)
	f.generator = NewGenerator(f.store, f.accounts, WithClock(f.clock.Now), WithTokenTTL(time.Hour))
	f.service = NewService(f.accounts, f.store, f.generator, f.dispatcher,
		WithServiceClock(f.clock.Now),
		WithCredentialHasher(account.BcryptHasher{Cost: 4}),
	)
	return f
}
