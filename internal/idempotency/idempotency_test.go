package idempotency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/model"
)

func TestDeriveKeyFormat(t *testing.T) {
	key := DeriveKey(model.ChannelEmail, "Welcome-V2", "user-42", "corr-7")

	parts := strings.Split(key, "-")
	require.GreaterOrEqual(t, len(parts), 5)

	assert.True(t, strings.HasPrefix(key, "email-welcome"), "channel and template are lowercased: %s", key)
	assert.Contains(t, key, "user-42")
	assert.Contains(t, key, "corr-7")

	// Random salt keeps two derived keys distinct.
	other := DeriveKey(model.ChannelEmail, "Welcome-V2", "user-42", "corr-7")
	assert.NotEqual(t, key, other)
}

func TestCachePutGet(t *testing.T) {
	c := NewCache(10)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k1", "n1")
	id, ok := c.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, "n1", id)

	// Overwrite does not grow the cache.
	c.Put("k1", "n2")
	id, _ = c.Get("k1")
	assert.Equal(t, "n2", id)
	assert.Equal(t, 1, c.Len())
}

func TestCacheEvictsOldest(t *testing.T) {
	c := NewCache(2)

	c.Put("k1", "n1")
	c.Put("k2", "n2")
	c.Put("k3", "n3")

	_, ok := c.Get("k1")
	assert.False(t, ok, "oldest entry evicted")

	_, ok = c.Get("k2")
	assert.True(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCacheDefaultSize(t *testing.T) {
	c := NewCache(0)
	c.Put("k", "n")
	assert.Equal(t, 1, c.Len())
}
