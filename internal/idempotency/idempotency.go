package idempotency

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"notifyhub/internal/model"
)

// DeriveKey builds an idempotency key for a request that did not supply
// one. The random salt means two distinct caller attempts never collide;
// callers that want duplicate detection must send their own key.
func DeriveKey(channel model.Channel, templateID, userID, correlationID string) string {
	salt := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		strings.ToLower(string(channel)),
		strings.ToLower(templateID),
		userID,
		correlationID,
		salt,
	)
}

// Cache is a bounded process-local map from idempotency key to
// notification id, layered in front of the store to short-circuit hot
// duplicates. It is a performance optimization only: the store's unique
// index on idempotency_key is the correctness source of truth, and the
// cache starts empty on every restart.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]string
	order      []string
	maxEntries int
}

func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache{
		entries:    make(map[string]string, maxEntries),
		maxEntries: maxEntries,
	}
}

// Get returns the cached notification id for key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.entries[key]
	return id, ok
}

// Put records key -> notificationID, evicting the oldest entry when the
// cache is full.
func (c *Cache) Put(key, notificationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = notificationID
		return
	}

	if len(c.entries) >= c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = notificationID
	c.order = append(c.order, key)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
