package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/spectrascout/trustcore/internal/types"
)

// EvidenceCache memoizes evidence records by (source, subject, dimension)
// with a TTL. Concurrent fetches for the same key are collapsed into one
// in-flight call; this is the only shared-mutable surface in the pipeline.
type EvidenceCache struct {
	items  *lru.LRU[string, types.EvidenceRecord]
	flight singleflight.Group
	ttl    time.Duration

	hits   int64
	misses int64
}

// NewEvidenceCache creates a cache holding up to size records for ttl each.
func NewEvidenceCache(size int, ttl time.Duration) *EvidenceCache {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &EvidenceCache{
		items: lru.NewLRU[string, types.EvidenceRecord](size, nil, ttl),
		ttl:   ttl,
	}
}

// Key builds the canonical cache key for one fetch.
func Key(sourceID, subject string, dimension types.Dimension) string {
	return fmt.Sprintf("%s|%s|%s", sourceID, subject, dimension)
}

// GetOrFetch returns the cached record for key, or runs fetch exactly once
// across all concurrent callers and caches its result. Errors are never
// cached; the next caller retries.
func (c *EvidenceCache) GetOrFetch(key string, fetch func() (types.EvidenceRecord, error)) (types.EvidenceRecord, bool, error) {
	if rec, ok := c.items.Get(key); ok {
		atomic.AddInt64(&c.hits, 1)
		return rec, true, nil
	}

	v, err, shared := c.flight.Do(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have populated the
		// key while this one was queued behind the leader.
		if rec, ok := c.items.Get(key); ok {
			return rec, nil
		}

		rec, err := fetch()
		if err != nil {
			return types.EvidenceRecord{}, err
		}

		c.items.Add(key, rec)
		return rec, nil
	})

	if err != nil {
		return types.EvidenceRecord{}, false, err
	}

	// Followers served by a shared flight never paid for a fetch.
	if shared {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return v.(types.EvidenceRecord), shared, nil
}

// Invalidate drops one key.
func (c *EvidenceCache) Invalidate(key string) {
	c.items.Remove(key)
}

// Purge drops everything.
func (c *EvidenceCache) Purge() {
	c.items.Purge()
}

// Len returns the number of live entries.
func (c *EvidenceCache) Len() int {
	return c.items.Len()
}

// Stats returns cache statistics
func (c *EvidenceCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"entries":     c.items.Len(),
		"hits":        atomic.LoadInt64(&c.hits),
		"misses":      atomic.LoadInt64(&c.misses),
		"ttl_seconds": c.ttl.Seconds(),
	}
}
