package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the freshness used when the response carries no cache headers.
const DefaultTTL = 6 * time.Hour

// NewEntry builds a cache entry from a successful response.
func NewEntry(statusCode int, header http.Header, body []byte, now time.Time) *CacheEntry {
	entry := &CacheEntry{
		Data:       body,
		ETag:       header.Get("ETag"),
		StatusCode: statusCode,
		CachedAt:   now,
		Expires:    parseExpires(header, now),
	}

	if lastModStr := header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry
}

// parseExpires prefers Cache-Control max-age, then Expires, then DefaultTTL.
func parseExpires(headers http.Header, now time.Time) time.Time {
	for _, directive := range strings.Split(headers.Get("Cache-Control"), ",") {
		directive = strings.TrimSpace(directive)
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
				return now.Add(time.Duration(seconds) * time.Second)
			}
		}
	}

	if expiresStr := headers.Get("Expires"); expiresStr != "" {
		if expires, err := http.ParseTime(expiresStr); err == nil {
			if expires.Before(now) {
				return now
			}
			return expires
		}
	}

	return now.Add(DefaultTTL)
}

// AddConditionalHeaders adds If-None-Match or If-Modified-Since for entry.
func AddConditionalHeaders(req *http.Request, entry *CacheEntry) {
	if entry == nil || req == nil {
		return
	}

	// ETag is more precise than Last-Modified
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}

// Refresh extends entry freshness from a 304 response.
func Refresh(entry *CacheEntry, header http.Header, now time.Time) {
	entry.Expires = parseExpires(header, now)
	if etag := header.Get("ETag"); etag != "" {
		entry.ETag = etag
	}
}
