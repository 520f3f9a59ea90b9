package cache

import (
	"time"
)

// CacheEntry is a cached response body with its validators.
type CacheEntry struct {
	Data         []byte    `json:"data"`
	ETag         string    `json:"etag"`
	Expires      time.Time `json:"expires"`
	LastModified time.Time `json:"last_modified"`
	StatusCode   int       `json:"status_code"`
	CachedAt     time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry is past its freshness window at now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.Expires)
}

// TTL returns the remaining freshness at now, or 0.
func (e *CacheEntry) TTL(now time.Time) time.Duration {
	ttl := e.Expires.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// CanRevalidate returns true if a conditional request can be made for the entry.
func (e *CacheEntry) CanRevalidate() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}
