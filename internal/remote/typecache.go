package remote

import (
	"sync"
	"time"

	"github.com/stowage/stowage/internal/metrics"
)

// DefaultTypeTTL is how long a cached classification stays fresh.
// Classifications never change once an object exists, so the TTL only
// bounds staleness after out-of-band deletions.
const DefaultTypeTTL = 10 * time.Minute

type typeEntry struct {
	resourceType ResourceType
	writtenAt    time.Time
}

// TypeCache memoizes object classifications with a time-based expiry.
// Entries are only overwritten on the next Put for the same key; there
// is no background sweep, so memory grows with the number of distinct
// objects accessed.
type TypeCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]typeEntry
}

// NewTypeCache creates a cache with the given TTL. ttl <= 0 falls back
// to DefaultTypeTTL.
func NewTypeCache(ttl time.Duration) *TypeCache {
	if ttl <= 0 {
		ttl = DefaultTypeTTL
	}
	return &TypeCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]typeEntry),
	}
}

// Get returns the cached classification for objectID. An entry older
// than the TTL is a miss.
func (c *TypeCache) Get(objectID string) (ResourceType, bool) {
	c.mu.RLock()
	e, ok := c.entries[objectID]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.writtenAt) > c.ttl {
		metrics.RecordTypeCacheLookup(false)
		return "", false
	}
	metrics.RecordTypeCacheLookup(true)
	return e.resourceType, true
}

// Put stores a classification. Redundant writes from racing readers are
// harmless since classifications are immutable.
func (c *TypeCache) Put(objectID string, rt ResourceType) {
	c.mu.Lock()
	c.entries[objectID] = typeEntry{resourceType: rt, writtenAt: c.now()}
	size := len(c.entries)
	c.mu.Unlock()
	metrics.SetTypeCacheSize(size)
}

// Len returns the number of entries currently held, fresh or stale.
func (c *TypeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
