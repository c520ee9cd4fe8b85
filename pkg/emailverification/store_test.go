package emailverification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-verify/pkg/account"
)

var storeEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestToken(accountID uuid.UUID, value string, issuedAt time.Time, ttl time.Duration) *VerificationToken {
	return &VerificationToken{
		ID:        uuid.New(),
		Value:     value,
		AccountID: accountID,
		Status:    TokenPending,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(ttl),
	}
}

// testStore exercises the behaviour every Store implementation must share
func testStore(t *testing.T, accounts account.Store, store Store) {
	ctx := context.Background()
	newAccount := func(t *testing.T) *account.Account {
		acct, err := accounts.Create(ctx, uuid.NewString()+"@example.com", []byte("hash"))
		require.NoError(t, err)
		return acct
	}

	t.Run("SaveAndLookup", func(t *testing.T) {
		acct := newAccount(t)
		token := newTestToken(acct.ID, uuid.NewString(), storeEpoch, time.Hour)
		require.NoError(t, store.Save(ctx, token))

		got, err := store.Lookup(ctx, token.Value)
		require.NoError(t, err)
		assert.Equal(t, token.ID, got.ID)
		assert.Equal(t, TokenPending, got.Status)
		assert.True(t, token.ExpiresAt.Equal(got.ExpiresAt))

		_, err = store.Lookup(ctx, "missing")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("SaveSupersedesActiveToken", func(t *testing.T) {
		acct := newAccount(t)
		first := newTestToken(acct.ID, uuid.NewString(), storeEpoch, time.Hour)
		require.NoError(t, store.Save(ctx, first))
		second := newTestToken(acct.ID, uuid.NewString(), storeEpoch.Add(time.Minute), time.Hour)
		require.NoError(t, store.Save(ctx, second))

		old, err := store.Lookup(ctx, first.Value)
		require.NoError(t, err)
		assert.Equal(t, TokenSuperseded, old.Status)

		active, err := store.ActiveForAccount(ctx, acct.ID, storeEpoch.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)

		_, err = store.Consume(ctx, first.Value, storeEpoch.Add(2*time.Minute))
		assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)
	})

	t.Run("SaveDuplicateValue", func(t *testing.T) {
		a := newAccount(t)
		b := newAccount(t)
		value := uuid.NewString()
		require.NoError(t, store.Save(ctx, newTestToken(a.ID, value, storeEpoch, time.Hour)))

		err := store.Save(ctx, newTestToken(b.ID, value, storeEpoch, time.Hour))
		assert.ErrorIs(t, err, ErrDuplicateToken)
	})

	t.Run("SaveUnknownAccount", func(t *testing.T) {
		err := store.Save(ctx, newTestToken(uuid.New(), uuid.NewString(), storeEpoch, time.Hour))
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("ConsumeMarksVerified", func(t *testing.T) {
		acct := newAccount(t)
		token := newTestToken(acct.ID, uuid.NewString(), storeEpoch, time.Hour)
		require.NoError(t, store.Save(ctx, token))

		verified, err := store.Consume(ctx, token.Value, storeEpoch.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, verified.IsVerified())
		assert.NotNil(t, verified.VerifiedAt)

		got, err := store.Lookup(ctx, token.Value)
		require.NoError(t, err)
		assert.Equal(t, TokenConsumed, got.Status)
		require.NotNil(t, got.ConsumedAt)

		_, err = store.Consume(ctx, token.Value, storeEpoch.Add(2*time.Minute))
		assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)

		err = store.Save(ctx, newTestToken(acct.ID, uuid.NewString(), storeEpoch, time.Hour))
		assert.ErrorIs(t, err, ErrAccountAlreadyVerified)
	})

	t.Run("ConsumeExpired", func(t *testing.T) {
		acct := newAccount(t)
		token := newTestToken(acct.ID, uuid.NewString(), storeEpoch, time.Hour)
		require.NoError(t, store.Save(ctx, token))

		_, err := store.Consume(ctx, token.Value, storeEpoch.Add(time.Hour))
		assert.ErrorIs(t, err, ErrTokenExpired)

		got, err := accounts.GetByID(ctx, acct.ID)
		require.NoError(t, err)
		assert.False(t, got.IsVerified())
	})

	t.Run("ConsumeNotFound", func(t *testing.T) {
		_, err := store.Consume(ctx, "missing", storeEpoch)
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("ConcurrentConsume", func(t *testing.T) {
		acct := newAccount(t)
		token := newTestToken(acct.ID, uuid.NewString(), storeEpoch, time.Hour)
		require.NoError(t, store.Save(ctx, token))

		const workers = 8
		errs := make([]error, workers)
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = store.Consume(ctx, token.Value, storeEpoch.Add(time.Minute))
			}(i)
		}
		close(start)
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
				continue
			}
			assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)
		}
		assert.Equal(t, 1, successes)
	})

	t.Run("ConcurrentSaveKeepsOneActive", func(t *testing.T) {
		acct := newAccount(t)

		const workers = 10
		tokens := make([]*VerificationToken, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			tokens[i] = newTestToken(acct.ID, uuid.NewString(), storeEpoch, time.Hour)
			wg.Add(1)
			go func(tok *VerificationToken) {
				defer wg.Done()
				assert.NoError(t, store.Save(ctx, tok))
			}(tokens[i])
		}
		wg.Wait()

		pending := 0
		for _, tok := range tokens {
			got, err := store.Lookup(ctx, tok.Value)
			require.NoError(t, err)
			if got.Status == TokenPending {
				pending++
			}
		}
		assert.Equal(t, 1, pending)
	})

	t.Run("ExpireStaleAndPurge", func(t *testing.T) {
		acct := newAccount(t)
		token := newTestToken(acct.ID, uuid.NewString(), storeEpoch, time.Hour)
		require.NoError(t, store.Save(ctx, token))

		expired, err := store.ExpireStale(ctx, storeEpoch.Add(2*time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, expired, int64(1))

		got, err := store.Lookup(ctx, token.Value)
		require.NoError(t, err)
		assert.Equal(t, TokenExpired, got.Status)

		_, err = store.Consume(ctx, token.Value, storeEpoch.Add(-time.Hour))
		assert.ErrorIs(t, err, ErrTokenExpired)

		_, err = store.Purge(ctx, storeEpoch)
		require.NoError(t, err)
		_, err = store.Lookup(ctx, token.Value)
		require.NoError(t, err, "token inside retention must survive")

		purged, err := store.Purge(ctx, storeEpoch.Add(3*time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, purged, int64(1))
		_, err = store.Lookup(ctx, token.Value)
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	accounts := account.NewInMemoryRepository()
	testStore(t, accounts, NewMemoryStore(accounts))
}
