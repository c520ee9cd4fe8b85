package emailverification

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-verify/pkg/account"
)

// zeroReader always yields the same bytes, so every value collides
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestGenerator_NewValue(t *testing.T) {
	t.Run("DefaultLength", func(t *testing.T) {
		g := NewGenerator(nil, nil)
		value, err := g.NewValue()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(value)
		require.NoError(t, err)
		assert.Len(t, raw, DefaultTokenBytes)
	})

	t.Run("MinimumEnforced", func(t *testing.T) {
		g := NewGenerator(nil, nil, WithTokenBytes(4))
		value, err := g.NewValue()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(value)
		require.NoError(t, err)
		assert.Len(t, raw, MinTokenBytes)
	})

	t.Run("Unique", func(t *testing.T) {
		g := NewGenerator(nil, nil)
		seen := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			value, err := g.NewValue()
			require.NoError(t, err)
			require.False(t, seen[value])
			seen[value] = true
		}
	})
}

func TestGenerator_Issue(t *testing.T) {
	ctx := context.Background()

	t.Run("SetsExpiry", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.accounts.Create(ctx, "a@example.com", []byte("hash"))
		require.NoError(t, err)

		token, err := f.generator.Issue(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, TokenPending, token.Status)
		assert.Equal(t, f.clock.Now(), token.IssuedAt)
		assert.Equal(t, f.clock.Now().Add(f.generator.TTL()), token.ExpiresAt)
	})

	t.Run("AccountNotFound", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.generator.Issue(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("AccountAlreadyVerified", func(t *testing.T) {
		f := newFixture(t)
		acct, err := f.accounts.Create(ctx, "a@example.com", []byte("hash"))
		require.NoError(t, err)
		_, err = f.accounts.MarkVerified(ctx, acct.ID)
		require.NoError(t, err)

		_, err = f.generator.Issue(ctx, acct.ID)
		assert.ErrorIs(t, err, ErrAccountAlreadyVerified)
	})

	t.Run("CollisionGivesUpAfterRetries", func(t *testing.T) {
		accounts := account.NewInMemoryRepository()
		store := NewMemoryStore(accounts)
		g := NewGenerator(store, accounts, WithRandom(zeroReader{}))

		first, err := accounts.Create(ctx, "first@example.com", []byte("hash"))
		require.NoError(t, err)
		second, err := accounts.Create(ctx, "second@example.com", []byte("hash"))
		require.NoError(t, err)

		_, err = g.Issue(ctx, first.ID)
		require.NoError(t, err)

		_, err = g.Issue(ctx, second.ID)
		assert.ErrorIs(t, err, ErrDuplicateToken)

		_, err = store.ActiveForAccount(ctx, second.ID, g.now())
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})
}
