package governor

import (
	"container/list"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// CacheOverflowError reports an entry larger than the entire cache budget.
// Such an entry is rejected outright; nothing is evicted for a value that
// can never fit.
type CacheOverflowError struct {
	Key         string
	SizeBytes   int64
	BudgetBytes int64
}

func (e *CacheOverflowError) Error() string {
	return fmt.Sprintf("cache entry %q (%d bytes) exceeds the whole cache budget (%d bytes)",
		e.Key, e.SizeBytes, e.BudgetBytes)
}

type cacheEntry struct {
	key          string
	value        any
	sizeBytes    int64
	insertedAt   time.Time
	accessCount  int64
	lastAccessed time.Time
	expiresAt    time.Time // zero means no TTL
}

// Cache is a byte-budgeted LRU cache with per-entry TTL. The total of all
// entry sizes never exceeds the budget; eviction removes entries in
// ascending last-accessed order. A bloom filter of every key ever stored
// classifies misses: a miss on a never-stored key is cold, a miss on a key
// lost to eviction or expiry is churn.
type Cache struct {
	mu      sync.Mutex
	budget  int64
	used    int64
	entries map[string]*list.Element
	lru     *list.List // Front is most recently accessed
	seen    *bloom.BloomFilter

	hits        uint64
	misses      uint64
	evictions   uint64
	rejected    uint64
	churnMisses uint64

	now func() time.Time
}

// NewCache creates a cache holding at most budgetBytes of estimated entry
// sizes.
func NewCache(budgetBytes int64) *Cache {
	return &Cache{
		budget:  budgetBytes,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		seen:    bloom.NewWithEstimates(100_000, 0.01),
		now:     time.Now,
	}
}

// EstimateSize approximates the serialized size of a value, the same way the
// cache charges it against the budget.
func EstimateSize(value any) int64 {
	if raw, err := json.Marshal(value); err == nil {
		return int64(len(raw))
	}
	return int64(len(fmt.Sprint(value)))
}

// Set stores value under key, evicting least-recently-accessed entries until
// it fits. ttl of zero means the entry never expires on its own.
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	size := EstimateSize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.budget {
		c.rejected++
		return &CacheOverflowError{Key: key, SizeBytes: size, BudgetBytes: c.budget}
	}

	now := c.now()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}

	if elem, exists := c.entries[key]; exists {
		entry := elem.Value.(*cacheEntry)
		c.used -= entry.sizeBytes
		entry.value = value
		entry.sizeBytes = size
		entry.insertedAt = now
		entry.lastAccessed = now
		entry.expiresAt = expires
		c.used += size
		c.lru.MoveToFront(elem)
		c.evictUntilFits()
		return nil
	}

	for c.used+size > c.budget {
		if !c.evictOldest() {
			break
		}
	}

	entry := &cacheEntry{
		key:          key,
		value:        value,
		sizeBytes:    size,
		insertedAt:   now,
		lastAccessed: now,
		expiresAt:    expires,
	}
	c.entries[key] = c.lru.PushFront(entry)
	c.used += size
	c.seen.AddString(key)
	return nil
}

// Get returns the value under key. An entry whose TTL has elapsed is removed
// on this read and counted as a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.entries[key]
	if !exists {
		c.misses++
		if c.seen.TestString(key) {
			c.churnMisses++
		}
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		c.churnMisses++
		return nil, false
	}

	entry.accessCount++
	entry.lastAccessed = c.now()
	c.lru.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Remove deletes the entry under key, reporting whether it existed.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.entries[key]
	if !exists {
		return false
	}
	c.removeElement(elem)
	return true
}

// Clear drops every entry. Counters survive; they describe the session, not
// the current contents.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*list.Element)
	c.lru = list.New()
	c.used = 0
	return n
}

// ShrinkByFraction evicts least-recently-accessed entries until the used
// size drops by at least the given fraction, returning how many were
// evicted. The pressure controller uses it for the high-pressure response.
func (c *Cache) ShrinkByFraction(fraction float64) int {
	if fraction <= 0 {
		return 0
	}
	if fraction > 1 {
		fraction = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	target := int64(float64(c.used) * (1 - fraction))
	evicted := 0
	for c.used > target {
		if !c.evictOldest() {
			break
		}
		evicted++
	}
	return evicted
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// UsedBytes reports the estimated total size of live entries.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// CacheStats is the aggregate view fed to queries and persisted across
// sessions.
type CacheStats struct {
	SizeBytes      int64         `json:"size_bytes"`
	BudgetBytes    int64         `json:"budget_bytes"`
	Count          int           `json:"count"`
	Hits           uint64        `json:"hits"`
	Misses         uint64        `json:"misses"`
	HitRate        float64       `json:"hit_rate"`
	Evictions      uint64        `json:"evictions"`
	Rejected       uint64        `json:"rejected"`
	ChurnMisses    uint64        `json:"churn_misses"`
	OldestEntryAge time.Duration `json:"oldest_entry_age"`
	NewestEntryAge time.Duration `json:"newest_entry_age"`
}

// Stats snapshots the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	stats := CacheStats{
		SizeBytes:   c.used,
		BudgetBytes: c.budget,
		Count:       len(c.entries),
		Hits:        c.hits,
		Misses:      c.misses,
		HitRate:     hitRate,
		Evictions:   c.evictions,
		Rejected:    c.rejected,
		ChurnMisses: c.churnMisses,
	}

	if len(c.entries) > 0 {
		now := c.now()
		var oldest, newest time.Time
		for _, elem := range c.entries {
			ins := elem.Value.(*cacheEntry).insertedAt
			if oldest.IsZero() || ins.Before(oldest) {
				oldest = ins
			}
			if newest.IsZero() || ins.After(newest) {
				newest = ins
			}
		}
		stats.OldestEntryAge = now.Sub(oldest)
		stats.NewestEntryAge = now.Sub(newest)
	}
	return stats
}

// restoreCounters seeds the session counters from persisted statistics so
// hit rates accumulate across launches.
func (c *Cache) restoreCounters(s CacheStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = s.Hits
	c.misses = s.Misses
	c.evictions = s.Evictions
	c.rejected = s.Rejected
	c.churnMisses = s.ChurnMisses
}

// evictOldest removes the least-recently-accessed entry. Caller holds the
// lock.
func (c *Cache) evictOldest() bool {
	oldest := c.lru.Back()
	if oldest == nil {
		return false
	}
	c.removeElement(oldest)
	c.evictions++
	return true
}

// evictUntilFits trims the tail after an in-place update grew an entry.
// Caller holds the lock.
func (c *Cache) evictUntilFits() {
	for c.used > c.budget {
		if !c.evictOldest() {
			return
		}
	}
}

// removeElement unlinks an entry from both views. Caller holds the lock.
func (c *Cache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.lru.Remove(elem)
	delete(c.entries, entry.key)
	c.used -= entry.sizeBytes
}
