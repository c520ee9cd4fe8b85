package emailverification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-verify/pkg/account"
)

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("IssuesAndEnqueues", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.service.Register(ctx, "New@Example.com", "secret")
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", acct.Email)
		assert.False(t, acct.IsVerified())

		token := f.dispatcher.last(t)
		assert.Equal(t, acct.ID, token.AccountID)

		status, err := f.service.Status(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, StatePendingDelivery, status.State)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Register(ctx, "dup@example.com", "secret")
		require.NoError(t, err)
		_, err = f.service.Register(ctx, "DUP@example.com", "secret")
		assert.ErrorIs(t, err, account.ErrAccountExists)
	})

	t.Run("EnqueueFailureKeepsAccount", func(t *testing.T) {
		f := newFixture(t)
		f.dispatcher.err = errors.New("queue down")

		acct, err := f.service.Register(ctx, "a@example.com", "secret")
		require.NoError(t, err)

		_, err = f.store.ActiveForAccount(ctx, acct.ID, f.clock.Now())
		assert.NoError(t, err)

		f.dispatcher.err = nil
		_, err = f.service.Resend(ctx, acct.ID)
		require.NoError(t, err)
	})
}

func TestService_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("ValidToken", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.service.Register(ctx, "a@example.com", "secret")
		require.NoError(t, err)

		verified, err := f.service.Verify(ctx, f.dispatcher.last(t).Value)
		require.NoError(t, err)
		assert.Equal(t, acct.ID, verified.ID)
		assert.True(t, verified.IsVerified())

		status, err := f.service.Status(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, StateVerified, status.State)
		assert.NotNil(t, status.VerifiedAt)
	})

	t.Run("Replay", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.service.Register(ctx, "a@example.com", "secret")
		require.NoError(t, err)
		value := f.dispatcher.last(t).Value

		first, err := f.service.Verify(ctx, value)
		require.NoError(t, err)

		_, err = f.service.Verify(ctx, value)
		assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)

		after, err := f.accounts.GetByID(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, after.IsVerified())
		assert.True(t, first.VerifiedAt.Equal(*after.VerifiedAt))
	})

	t.Run("ConcurrentDoubleConsume", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Register(ctx, "a@example.com", "secret")
		require.NoError(t, err)
		value := f.dispatcher.last(t).Value

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.service.Verify(ctx, value)
			}(i)
		}
		wg.Wait()

		if errs[0] == nil {
			assert.ErrorIs(t, errs[1], ErrTokenAlreadyConsumed)
		} else {
			assert.ErrorIs(t, errs[0], ErrTokenAlreadyConsumed)
			assert.NoError(t, errs[1])
		}
	})

	t.Run("Expired", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.service.Register(ctx, "a@example.com", "secret")
		require.NoError(t, err)
		value := f.dispatcher.last(t).Value

		f.clock.Advance(f.generator.TTL() + time.Second)

		_, err = f.service.Verify(ctx, value)
		assert.ErrorIs(t, err, ErrTokenExpired)

		got, err := f.accounts.GetByID(ctx, acct.ID)
		require.NoError(t, err)
		assert.False(t, got.IsVerified())

		status, err := f.service.Status(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, StateExpired, status.State)
	})

	t.Run("ExpiredTokenOfVerifiedAccount", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.service.Register(ctx, "a@example.com", "secret")
		require.NoError(t, err)
		stale := f.dispatcher.last(t).Value

		f.clock.Advance(f.generator.TTL() + time.Second)
		_, err = f.service.Resend(ctx, acct.ID)
		require.NoError(t, err)
		_, err = f.service.Verify(ctx, f.dispatcher.last(t).Value)
		require.NoError(t, err)

		_, err = f.service.Verify(ctx, stale)
		assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)
	})

	t.Run("UnknownToken", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Verify(ctx, "does-not-exist")
		assert.ErrorIs(t, err, ErrTokenNotFound)

		_, err = f.service.Verify(ctx, "")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})
}

func TestService_Resend(t *testing.T) {
	ctx := context.Background()

	t.Run("AfterExpiryIssuesFreshValue", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.service.Register(ctx, "a@example.com", "secret")
		require.NoError(t, err)

		seen := map[string]bool{f.dispatcher.last(t).Value: true}
		for i := 0; i < 5; i++ {
			f.clock.Advance(f.generator.TTL() + time.Second)
			token, err := f.service.Resend(ctx, acct.ID)
			require.NoError(t, err)
			assert.False(t, seen[token.Value])
			seen[token.Value] = true
		}

		_, err = f.service.Verify(ctx, f.dispatcher.last(t).Value)
		require.NoError(t, err)
	})

	t.Run("SupersedesPreviousToken", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.service.Register(ctx, "a@example.com", "secret")
		require.NoError(t, err)
		old := f.dispatcher.last(t).Value

		_, err = f.service.Resend(ctx, acct.ID)
		require.NoError(t, err)

		_, err = f.service.Verify(ctx, old)
		assert.ErrorIs(t, err, ErrTokenAlreadyConsumed)
	})

	t.Run("ConcurrentResendsKeepOneActive", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.service.Register(ctx, "a@example.com", "secret")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.service.Resend(ctx, acct.ID)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		f.store.mu.Lock()
		pending := 0
		for _, tok := range f.store.byAccount[acct.ID] {
			if tok.Status == TokenPending {
				pending++
			}
		}
		total := len(f.store.byAccount[acct.ID])
		f.store.mu.Unlock()

		assert.Equal(t, 1, pending)
		assert.Equal(t, 21, total)
	})

	t.Run("AlreadyVerified", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.service.Register(ctx, "a@example.com", "secret")
		require.NoError(t, err)
		_, err = f.service.Verify(ctx, f.dispatcher.last(t).Value)
		require.NoError(t, err)

		_, err = f.service.Resend(ctx, acct.ID)
		assert.ErrorIs(t, err, ErrAccountAlreadyVerified)
	})

	t.Run("ByEmail", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Register(ctx, "a@example.com", "secret")
		require.NoError(t, err)

		require.NoError(t, f.service.ResendByEmail(ctx, " A@EXAMPLE.com"))
		assert.Len(t, f.dispatcher.tokens, 2)

		err = f.service.ResendByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.Resend(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestService_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	acct, err := f.service.Register(ctx, "a@example.com", "secret")
	require.NoError(t, err)
	value := f.dispatcher.last(t).Value

	f.clock.Advance(f.generator.TTL())
	res, err := f.service.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Expired)
	assert.Equal(t, int64(0), res.Purged)

	status, err := f.service.Status(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, status.State)

	f.clock.Advance(DefaultRetention + time.Second)
	res, err = f.service.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Purged)

	_, err = f.store.Lookup(ctx, value)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestNext(t *testing.T) {
	tests := []struct {
		from    State
		event   Event
		want    State
		wantErr bool
	}{
		{StateUnverified, EventAccountCreated, StatePendingDelivery, false},
		{StatePendingDelivery, EventTokenValid, StateVerified, false},
		{StatePendingDelivery, EventTokenExpired, StateExpired, false},
		{StatePendingDelivery, EventTokenReplayed, StatePendingDelivery, false},
		{StateExpired, EventResendRequested, StatePendingDelivery, false},
		{StateVerified, EventTokenReplayed, StateVerified, false},
		{StateVerified, EventResendRequested, StateVerified, true},
		{StateExpired, EventTokenValid, StateExpired, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := Next(tt.from, tt.event)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
	assert.True(t, StateVerified.Terminal())
	assert.False(t, StateExpired.Terminal())
}
