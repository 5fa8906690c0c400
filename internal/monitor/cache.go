package monitor

import (
	"slices"
	"sync"

	"github.com/couchcryptid/p2pquake-service/internal/domain"
)

// DefaultHistorySize bounds the in-memory history.
const DefaultHistorySize = 1000

// Cache holds what the monitor has seen: a FIFO history, the latest message
// per code and an index by event id. The monitor is the single writer;
// readers take the read lock.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	history  []domain.Message
	latest   map[domain.InfoCode]domain.Message
	byID     *idIndex
}

// NewCache creates a cache retaining at most capacity messages. A
// non-positive capacity selects DefaultHistorySize.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &Cache{
		capacity: capacity,
		history:  make([]domain.Message, 0, capacity),
		latest:   make(map[domain.InfoCode]domain.Message),
		byID:     newIDIndex(capacity),
	}
}

// Add records msg. When the history is full the oldest entry is dropped.
func (c *Cache) Add(msg domain.Message) {
	meta := msg.Meta()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.latest[meta.Code] = msg
	if len(c.history) == c.capacity {
		copy(c.history, c.history[1:])
		c.history[len(c.history)-1] = msg
	} else {
		c.history = append(c.history, msg)
	}
	if id := meta.EventID(); id != "" {
		c.byID.put(id, msg)
	}
}

// Len returns the number of messages in the history.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}

// LatestCount returns how many codes have a latest message.
func (c *Cache) LatestCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.latest)
}

// Latest returns the most recent message with the given code.
func (c *Cache) Latest(code domain.InfoCode) (domain.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.latest[code]
	return m, ok
}

// ByID returns the most recent message carrying id.
func (c *Cache) ByID(id string) (domain.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID.get(id)
}

// History returns a copy of the history, oldest first.
func (c *Cache) History() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Last returns up to limit of the most recent messages of type T, in
// insertion order. A non-positive limit returns nothing.
func Last[T domain.Message](c *Cache, limit int) []T {
	if limit <= 0 {
		return []T{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	picked := make([]T, 0, min(limit, len(c.history)))
	for i := len(c.history) - 1; i >= 0 && len(picked) < limit; i-- {
		if v, ok := c.history[i].(T); ok {
			picked = append(picked, v)
		}
	}
	slices.Reverse(picked)
	return picked
}
