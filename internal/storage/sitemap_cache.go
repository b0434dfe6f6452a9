package storage

import (
	"database/sql"
	"errors"
	"time"
)

// SitemapCache is the durable counterpart to sitemap/cache.MemoryCache:
// same Get/Put contract, backed by the shared _sitemap_cache table so a
// sitemap pass survives a crash and honors sitemap_cache_hours across
// runs rather than only within one (§6 "sitemap_cache_hours").
type SitemapCache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSitemapCache builds a cache bounded by ttl (sitemap_cache_hours
// converted to a duration), backed by the same connection as s. ttl <= 0
// means entries never expire.
func (s *Store) NewSitemapCache(ttl time.Duration) *SitemapCache {
	return &SitemapCache{db: s.db.DB, ttl: ttl, now: time.Now}
}

// Get implements sitemap/cache.Cache.
func (c *SitemapCache) Get(key string) (string, bool) {
	var value string
	var storedAt time.Time
	err := c.db.QueryRow(`SELECT value, stored_at FROM _sitemap_cache WHERE key = ?`, key).Scan(&value, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		return "", false
	}
	if c.ttl > 0 && c.now().Sub(storedAt) > c.ttl {
		return "", false
	}
	return value, true
}

// Put implements sitemap/cache.Cache.
func (c *SitemapCache) Put(key, value string) {
	_, _ = c.db.Exec(`
		INSERT INTO _sitemap_cache (key, value, stored_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at
	`, key, value, c.now())
}
