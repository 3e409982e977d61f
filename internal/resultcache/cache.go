// Package resultcache keeps each user's latest manual search results for a
// bounded time so a listing can be picked and tracked afterwards.
package resultcache

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// DefaultTTL is how long a search result stays selectable.
const DefaultTTL = 30 * time.Minute

type entry struct {
	listings   []tracker.RawListing
	capturedAt time.Time
}

// Cache is an in-process tracker.ResultCache. Writes replace the whole
// entry for a user; expiry is checked on read only.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   tracker.Clock
	entries map[string]entry
}

var _ tracker.ResultCache = (*Cache)(nil)

// New constructs a Cache. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, clock tracker.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, clock: clock, entries: make(map[string]entry)}
}

// Put stores listings for the user, replacing any earlier result.
func (c *Cache) Put(_ context.Context, userID string, listings []tracker.RawListing) error {
	stored := make([]tracker.RawListing, len(listings))
	copy(stored, listings)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = entry{listings: stored, capturedAt: c.clock.Now()}
	return nil
}

// Get returns the user's listings if they are younger than the TTL. A stale
// entry is evicted and reported as absent.
func (c *Cache) Get(_ context.Context, userID string) ([]tracker.RawListing, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		metrics.ObserveCacheLookup("miss")
		return nil, false, nil
	}
	if Expired(e.capturedAt, c.clock.Now(), c.ttl) {
		delete(c.entries, userID)
		metrics.ObserveCacheLookup("evicted")
		return nil, false, nil
	}
	metrics.ObserveCacheLookup("hit")
	out := make([]tracker.RawListing, len(e.listings))
	copy(out, e.listings)
	return out, true, nil
}

// Len reports the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Expired reports whether an entry captured at capturedAt is past ttl at now.
func Expired(capturedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(capturedAt) >= ttl
}
