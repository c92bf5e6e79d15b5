// Package cache provides the bounded in-memory response store
// with TTL expiry and batch eviction.
package cache

import (
	"net/http"
	"time"
)

// Entry represents a cached downstream response.
type Entry struct {
	// Body is the raw response body
	Body []byte

	// Compressed is the gzip variant of Body, nil when not produced
	Compressed []byte

	// ContentType is the Content-Type reported by the downstream handler
	ContentType string

	// CacheControl is the Cache-Control reported by the downstream handler
	CacheControl string

	// Status is the HTTP status code of the cached response
	Status int

	// CachedAt is when the entry was stored
	CachedAt time.Time

	// ExpiresAt is when the entry becomes stale
	ExpiresAt time.Time

	seq uint64
}

// IsExpired reports whether the entry is stale at the given instant.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the time left until expiration at the given instant.
// Returns 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// StatusCode returns Status, defaulting to 200.
func (e *Entry) StatusCode() int {
	if e.Status == 0 {
		return http.StatusOK
	}
	return e.Status
}
