// Package cache holds recent check outcomes keyed by commit SHA and check
// name, so checks that already ran against a stable head SHA are not
// repeated. Entries expire after a TTL and the cache is size-capped.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/imq-dev/imq/internal/checks"
	"github.com/imq-dev/imq/internal/metrics"
)

const (
	// DefaultTTL matches the default check result validity window.
	DefaultTTL = time.Hour

	// DefaultMaxEntries caps the cache before eviction kicks in.
	DefaultMaxEntries = 1000
)

type entry struct {
	sha       string
	name      string
	status    checks.ResultStatus
	createdAt time.Time
	expiresAt time.Time
}

// ResultCache is a TTL-bounded, size-capped store of check outcomes. It
// implements checks.ResultCache. A background janitor reclaims expired
// entries; Close stops it.
type ResultCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int
	metrics    *metrics.Metrics

	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a cache and starts its janitor. m may be nil.
func New(ttl time.Duration, maxEntries int, m *metrics.Metrics) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	c := &ResultCache{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		metrics:    m,
		stop:       make(chan struct{}),
	}
	go c.janitor(janitorInterval(ttl))
	return c
}

// Get returns the cached terminal status for (sha, name). Expired entries
// are dropped on access.
func (c *ResultCache) Get(sha, name string) (checks.ResultStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(sha, name)
	e, ok := c.entries[key]
	if !ok {
		c.countMiss()
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.updateGauge()
		c.countMiss()
		return "", false
	}

	c.countHit()
	return e.status, true
}

// Set records a terminal status for (sha, name). When the cache is full,
// the oldest tenth of entries by creation time is evicted first.
func (c *ResultCache) Set(sha, name string, status checks.ResultStatus) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(sha, name)
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	c.entries[key] = &entry{
		sha:       sha,
		name:      name,
		status:    status,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	c.updateGauge()
}

// InvalidateSHA drops every entry for the given commit SHA. Called when a
// PR is synchronized and its old head results no longer apply.
func (c *ResultCache) InvalidateSHA(sha string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if e.sha == sha {
			delete(c.entries, key)
		}
	}
	c.updateGauge()
}

// DeleteExpired removes every entry past its TTL.
func (c *ResultCache) DeleteExpired() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			c.countEviction()
		}
	}
	c.updateGauge()
}

// Len reports the number of live entries, including any not yet reclaimed
// by the janitor.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the janitor.
func (c *ResultCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// evictOldest drops the oldest tenth of entries by creation time, at
// least one. Caller holds the lock.
func (c *ResultCache) evictOldest() {
	n := c.maxEntries / 10
	if n < 1 {
		n = 1
	}

	all := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].createdAt.Before(all[j].createdAt)
	})

	if n > len(all) {
		n = len(all)
	}
	for _, e := range all[:n] {
		delete(c.entries, cacheKey(e.sha, e.name))
		c.countEviction()
	}
}

func (c *ResultCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stop:
			return
		}
	}
}

// janitorInterval is half the TTL, clamped between one second and one
// minute.
func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	return interval
}

func cacheKey(sha, name string) string {
	return sha + "\x00" + name
}

func (c *ResultCache) countHit() {
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *ResultCache) countMiss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

func (c *ResultCache) countEviction() {
	if c.metrics != nil {
		c.metrics.CacheEvictions.Inc()
	}
}

// updateGauge publishes the live entry count. Caller holds the lock.
func (c *ResultCache) updateGauge() {
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(len(c.entries)))
	}
}
