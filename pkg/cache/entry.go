package cache

import (
	"time"
)

// StaleGrace is how long an expired entry with an ETag or Last-Modified
// date is kept for revalidation.
const StaleGrace = 24 * time.Hour

// Entry is a cached NDB response body. Only bodies free of API error
// envelopes are stored, so Data always decodes as a result.
type Entry struct {
	Data         []byte    `json:"data"`
	ETag         string    `json:"etag,omitempty"`
	Expires      time.Time `json:"expires"`
	LastModified time.Time `json:"last_modified,omitempty"`
	StatusCode   int       `json:"status_code"`
	CachedAt     time.Time `json:"cached_at"`
}

// IsExpired reports whether the entry is past its freshness lifetime. An
// expired entry may still be revalidated while Retained holds.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the remaining freshness lifetime, 0 once expired.
func (e *Entry) TTL() time.Duration {
	return max(time.Until(e.Expires), 0)
}

// Revalidatable reports whether upstream can confirm the entry with a
// conditional request.
func (e *Entry) Revalidatable() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}

// StorageTTL is how long Redis keeps the entry: its freshness lifetime,
// plus StaleGrace for revalidatable entries. It is 0 for an entry that
// is already expired, which is then not stored at all.
func (e *Entry) StorageTTL() time.Duration {
	ttl := e.TTL()
	if ttl <= 0 {
		return 0
	}
	if e.Revalidatable() {
		ttl += StaleGrace
	}
	return ttl
}

// Retained reports whether an expired entry is still worth keeping for a
// conditional request.
func (e *Entry) Retained() bool {
	if !e.IsExpired() {
		return true
	}
	return e.Revalidatable() && time.Now().Before(e.Expires.Add(StaleGrace))
}

// Age returns how long ago the body was fetched from upstream.
func (e *Entry) Age() time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	return time.Since(e.CachedAt)
}
