// Package cache holds synthesized audio between the moment a segment is
// generated and the moment it finishes playing out to the caller. Entries are
// keyed by generated identifiers and evicted after a TTL; a missing key is a
// normal condition, never an error.
package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a synthesized artifact stays retrievable. Audio is
// only needed for the duration of the current call.
const DefaultTTL = 15 * time.Minute

type entry struct {
	data      []byte
	createdAt time.Time
	expiresAt time.Time
	timer     *time.Timer
}

// AudioCache is a short-lived in-memory store of synthesized audio. Safe for
// concurrent use across sessions; a single mutex is enough at call volumes.
type AudioCache struct {
	mu      sync.Mutex
	entries map[string]entry

	// now is swappable in tests to simulate TTL expiry without sleeping.
	now func() time.Time
}

// NewAudioCache creates an empty cache.
func NewAudioCache() *AudioCache {
	return &AudioCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Put stores audio bytes under a fresh key and schedules eviction after ttl.
// A ttl of zero uses DefaultTTL.
func (c *AudioCache) Put(data []byte, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = entry{
		data:      data,
		createdAt: now,
		expiresAt: now.Add(ttl),
		timer:     time.AfterFunc(ttl, func() { c.Delete(key) }),
	}
	return key
}

// Get returns the audio for key. The second return is false for unknown or
// expired keys; once evicted a key is permanently invalid.
func (c *AudioCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	// The timer usually handles eviction; the expiry check covers simulated
	// clocks and the window before the timer fires.
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		if e.timer != nil {
			e.timer.Stop()
		}
		return nil, false
	}
	return e.data, true
}

// Delete evicts a key immediately. Deleting an absent key is a no-op.
func (c *AudioCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, key)
	}
}

// Len reports the number of live entries.
func (c *AudioCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
