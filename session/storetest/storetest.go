// Package storetest holds the conformance suite every session.Store
// implementation must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgf-fleet/pgfgate/session"
)

// Run exercises store. Keys are prefixed with the test name so one backing
// database can be shared between runs.
func Run(t *testing.T, store session.Store) {
	t.Helper()
	ctx := context.Background()
	live := func(subject string) session.Record {
		now := time.Now().UTC().Truncate(time.Second)
		return session.Record{
			Subject:   subject,
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Hour),
		}
	}

	t.Run("PutAndGet", func(t *testing.T) {
		rec := live("u-1")
		rec.RefreshIssuedAt = rec.IssuedAt
		rec.RefreshExpiresAt = rec.IssuedAt.Add(7 * 24 * time.Hour)
		rec.Refreshes = 3
		require.NoError(t, store.Put(ctx, "k-get", rec))

		got, ok := store.Get(ctx, "k-get")
		require.True(t, ok)
		assert.Equal(t, "u-1", got.Subject)
		assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
		assert.True(t, rec.RefreshExpiresAt.Equal(got.RefreshExpiresAt))
		assert.Equal(t, 3, got.Refreshes)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, ok := store.Get(ctx, "k-none")
		assert.False(t, ok)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "k-del", live("u-del")))
		require.NoError(t, store.Delete(ctx, "k-del"))
		_, ok := store.Get(ctx, "k-del")
		assert.False(t, ok)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		assert.NoError(t, store.Delete(ctx, "k-never"))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "k-ow", live("v1")))
		require.NoError(t, store.Put(ctx, "k-ow", live("v2")))
		got, ok := store.Get(ctx, "k-ow")
		require.True(t, ok)
		assert.Equal(t, "v2", got.Subject)
	})

	t.Run("ExpiredRecord", func(t *testing.T) {
		rec := live("u-exp")
		rec.IssuedAt = time.Now().Add(-2 * time.Hour)
		rec.ExpiresAt = time.Now().Add(-time.Second)
		require.NoError(t, store.Put(ctx, "k-exp", rec))
		_, ok := store.Get(ctx, "k-exp")
		assert.False(t, ok)
	})
}
