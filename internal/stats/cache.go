package stats

import (
	"sync"
	"time"

	"github.com/user/edgegate/internal/model"
)

// Entry is one cached series.
type Entry struct {
	Key       string
	Tenant    string
	Series    *model.StatSeries
	FetchedAt time.Time
	TTL       time.Duration
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.FetchedAt.Add(e.TTL))
}

// Cache stores series keyed by tenant and query key. Entries are never
// served past their TTL, and only the current tenant may store new ones.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	tenant  string
	now     func() time.Time
}

// NewCache creates an empty cache. A nil clock means time.Now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{entries: make(map[string]*Entry), now: now}
}

func cacheKey(tenant, key string) string {
	return tenant + "#" + key
}

// Get returns a copy of the cached series if present and unexpired.
func (c *Cache) Get(tenant, key string) (*model.StatSeries, bool) {
	c.mu.RLock()
	e, ok := c.entries[cacheKey(tenant, key)]
	c.mu.RUnlock()
	if !ok || e.expired(c.now()) {
		return nil, false
	}
	return e.Series.Clone(), true
}

// Put stores a copy of s and reports whether it did. A series fetched for
// a tenant that is no longer current is discarded.
func (c *Cache) Put(tenant, key string, s *model.StatSeries, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if tenant != c.tenant {
		return false
	}
	c.entries[cacheKey(tenant, key)] = &Entry{
		Key:       key,
		Tenant:    tenant,
		Series:    s.Clone(),
		FetchedAt: c.now(),
		TTL:       ttl,
	}
	return true
}

// SetTenant makes tenant current and drops every entry scoped to another
// tenant. It returns how many entries were dropped.
func (c *Cache) SetTenant(tenant string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenant = tenant
	n := 0
	for k, e := range c.entries {
		if e.Tenant != tenant {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Sweep evicts expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
