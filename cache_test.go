package dsync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip per conversation", func(t *testing.T) {
		c := NewMemoryCache()
		require.NoError(t, c.Store(ctx, "conv-1", []Message{*testMsg("m1", time.Second)}))
		require.NoError(t, c.Store(ctx, "conv-2", []Message{*testMsg("m2", time.Second)}))

		got, err := c.Load(ctx, "conv-1")
		require.NoError(t, err)
		require.Equal(t, []string{"m1"}, ids(got))
	})

	t.Run("unknown conversation loads empty", func(t *testing.T) {
		c := NewMemoryCache()
		got, err := c.Load(ctx, "conv-ghost")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("stored and loaded snapshots are isolated", func(t *testing.T) {
		c := NewMemoryCache()
		in := []Message{*testMsg("m1", time.Second)}
		require.NoError(t, c.Store(ctx, "conv-1", in))
		in[0].Body = "mutated after store"

		got, err := c.Load(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "message m1", got[0].Body)

		got[0].Body = "mutated after load"
		again, err := c.Load(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "message m1", again[0].Body)
	})
}

func TestSQLiteCache(t *testing.T) {
	ctx := context.Background()

	openTemp := func(t *testing.T) *SQLiteCache {
		t.Helper()
		c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "snapshots.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	t.Run("round trip preserves message fields", func(t *testing.T) {
		c := openTemp(t)

		m := testMsg("m1", time.Second)
		m.LikedBy = []string{"user-2"}
		m.Reply = &ReplyRef{ID: "m0", Preview: "earlier"}
		require.NoError(t, c.Store(ctx, "conv-1", []Message{*m}))

		got, err := c.Load(ctx, "conv-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "m1", got[0].ID)
		assert.Equal(t, []string{"user-2"}, got[0].LikedBy)
		require.NotNil(t, got[0].Reply)
		assert.Equal(t, "m0", got[0].Reply.ID)
		assert.True(t, got[0].CreatedAt.Equal(m.CreatedAt))
	})

	t.Run("store overwrites the previous snapshot", func(t *testing.T) {
		c := openTemp(t)

		require.NoError(t, c.Store(ctx, "conv-1", []Message{*testMsg("old", time.Second)}))
		require.NoError(t, c.Store(ctx, "conv-1", []Message{*testMsg("new", 2 * time.Second)}))

		got, err := c.Load(ctx, "conv-1")
		require.NoError(t, err)
		require.Equal(t, []string{"new"}, ids(got))
	})

	t.Run("unknown conversation loads empty", func(t *testing.T) {
		c := openTemp(t)
		got, err := c.Load(ctx, "conv-ghost")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("snapshot survives reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "snapshots.db")

		c, err := NewSQLiteCache(path)
		require.NoError(t, err)
		require.NoError(t, c.Store(ctx, "conv-1", []Message{*testMsg("m1", time.Second)}))
		require.NoError(t, c.Close())

		reopened, err := NewSQLiteCache(path)
		require.NoError(t, err)
		defer reopened.Close()

		got, err := reopened.Load(ctx, "conv-1")
		require.NoError(t, err)
		require.Equal(t, []string{"m1"}, ids(got))
	})
}
