package federation

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type cacheEntry struct {
	hash      string
	expiresAt time.Time
	toolCount int
}

// ToolCache remembers the hash of the last catalog fetched from each backend
// so an unchanged catalog can skip the registry. A zero TTL disables it.
type ToolCache struct {
	ttl     time.Duration
	entries *xsync.MapOf[string, cacheEntry]
}

func NewToolCache(ttl time.Duration) *ToolCache {
	return &ToolCache{ttl: ttl, entries: xsync.NewMapOf[string, cacheEntry]()}
}

// Lookup returns the cached tool count when a live entry for backendID has
// the same hash, sliding its expiry forward.
func (c *ToolCache) Lookup(backendID, hash string, now time.Time) (int, bool) {
	if c.ttl <= 0 {
		return 0, false
	}
	e, ok := c.entries.Load(backendID)
	if !ok || e.hash != hash || !now.Before(e.expiresAt) {
		return 0, false
	}
	e.expiresAt = now.Add(c.ttl)
	c.entries.Store(backendID, e)
	return e.toolCount, true
}

// Store replaces the entry for backendID.
func (c *ToolCache) Store(backendID, hash string, toolCount int, now time.Time) {
	if c.ttl <= 0 {
		return
	}
	c.entries.Store(backendID, cacheEntry{hash: hash, expiresAt: now.Add(c.ttl), toolCount: toolCount})
}

func (c *ToolCache) Invalidate(backendID string) { c.entries.Delete(backendID) }

func (c *ToolCache) Clear() { c.entries.Clear() }

func (c *ToolCache) Len() int { return c.entries.Size() }
