package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	ctx := context.Background()
	c, err := Open(filepath.Join(t.TempDir(), "sub", "descriptions.db"))
	require.NoError(t, err)
	defer c.Close()

	k := NewKey([]byte("image bytes"), "ollama", "llava:latest", "detailed")
	assert.Len(t, k.Hash, 64)

	_, ok, err := c.Lookup(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Store(ctx, k, "A cat."))
	got, ok, err := c.Lookup(ctx, k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A cat.", got)

	require.NoError(t, c.Store(ctx, k, "A sleeping cat."))
	got, _, err = c.Lookup(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "A sleeping cat.", got)

	other := NewKey([]byte("image bytes"), "ollama", "llava:latest", "concise")
	_, ok, err = c.Lookup(ctx, other)
	require.NoError(t, err)
	assert.False(t, ok, "prompt style is part of the key")

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewKeyDependsOnContent(t *testing.T) {
	a := NewKey([]byte("a"), "p", "m", "s")
	b := NewKey([]byte("b"), "p", "m", "s")
	assert.NotEqual(t, a.Hash, b.Hash)
	assert.Equal(t, a, NewKey([]byte("a"), "p", "m", "s"))
}
