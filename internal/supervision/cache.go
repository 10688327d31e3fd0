package supervision

import (
	"sync"
	"time"

	"github.com/processtriage/pt/internal/identity"
)

// cachedResult pairs a detector verdict with the time it was recorded, so
// AncestryCache can expire entries the way the gossip quorum evaluator
// expires stale peer observations.
type cachedResult struct {
	result     Result
	recordedAt time.Time
}

// AncestryCache memoises AncestryDetector verdicts keyed by PID, since
// walking /proc parent chains repeatedly for the same PID within a single
// scan is wasted work. Entries older than TTL are pruned on a background
// tick, adapted from the gossip quorum evaluator's TTL-expiry pattern.
type AncestryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[uint32]cachedResult
	stop    chan struct{}
}

// NewAncestryCache creates a cache that expires entries after ttl and
// starts a background pruning goroutine. Call Close to stop it.
func NewAncestryCache(ttl time.Duration) *AncestryCache {
	c := &AncestryCache{
		ttl:     ttl,
		entries: make(map[uint32]cachedResult),
		stop:    make(chan struct{}),
	}
	go c.pruneLoop()
	return c
}

// Get returns a cached verdict for pid if it is present and not yet expired.
func (c *AncestryCache) Get(pid uint32) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[pid]
	if !ok || time.Since(entry.recordedAt) > c.ttl {
		return Result{}, false
	}
	return entry.result, true
}

// Put records a fresh verdict for pid.
func (c *AncestryCache) Put(pid uint32, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[pid] = cachedResult{result: result, recordedAt: time.Now()}
}

// Populate pre-warms the cache for a batch of identities using detector,
// skipping any whose ancestry lookup fails (best-effort warm-up only).
func (c *AncestryCache) Populate(ids []identity.ProcessIdentity, detector AncestryDetector) {
	for _, id := range ids {
		if res, err := detector.Detect(id); err == nil {
			c.Put(id.PID, res)
		}
	}
}

func (c *AncestryCache) pruneExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-c.ttl)
	for pid, entry := range c.entries {
		if entry.recordedAt.Before(cutoff) {
			delete(c.entries, pid)
		}
	}
}

func (c *AncestryCache) pruneLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.pruneExpired()
		case <-c.stop:
			return
		}
	}
}

// Close stops the background pruning goroutine.
func (c *AncestryCache) Close() {
	close(c.stop)
}
