package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "org-1", "k", []byte("v"), time.Minute))

	got, ok, err := c.Get(ctx, "org-1", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	_, ok, _ = c.Get(ctx, "org-2", "k")
	assert.False(t, ok, "entries are scoped per organization")
}

func TestMemory_Expiry(t *testing.T) {
	c := NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "org-1", "k", []byte("v"), time.Minute))

	now = now.Add(59 * time.Second)
	_, ok, _ := c.Get(ctx, "org-1", "k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok, _ = c.Get(ctx, "org-1", "k")
	assert.False(t, ok)
}

func TestMemory_InvalidateOrg(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "org-1", "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "org-1", "b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "org-2", "a", []byte("3"), time.Minute))

	require.NoError(t, c.InvalidateOrg(ctx, "org-1"))

	_, ok, _ := c.Get(ctx, "org-1", "a")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "org-2", "a")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, c.Set(ctx, "org-1", "k", buf, time.Minute))
	buf[0] = 'X'

	got, _, _ := c.Get(ctx, "org-1", "k")
	assert.Equal(t, "abc", string(got))
	got[0] = 'Y'

	again, _, _ := c.Get(ctx, "org-1", "k")
	assert.Equal(t, "abc", string(again))
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "o", "k", []byte("v"), time.Minute))
	_, ok, err := c.Get(ctx, "o", "k")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.InvalidateOrg(ctx, "o"))
}
