package cache

import (
	"time"
)

// EntryVersion is bumped whenever the stored layout changes. Entries written
// with another version are treated as invalid and dropped.
const EntryVersion = 1

// Entry is one cached upstream document.
type Entry struct {
	Version  int       `json:"v"`
	Data     []byte    `json:"data"`
	CachedAt time.Time `json:"cached_at"`
	Expires  time.Time `json:"expires"`
}

// NewEntry wraps data so that it expires ttl from now.
func NewEntry(data []byte, ttl time.Duration) *Entry {
	return newEntryAt(data, ttl, time.Now())
}

func newEntryAt(data []byte, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		Version:  EntryVersion,
		Data:     data,
		CachedAt: now,
		Expires:  now.Add(ttl),
	}
}

// IsExpired reports whether the entry is past its deadline.
func (e *Entry) IsExpired() bool {
	return e.expiredAt(time.Now())
}

func (e *Entry) expiredAt(now time.Time) bool {
	return !now.Before(e.Expires)
}

// TTL is the time left before expiry, never negative.
func (e *Entry) TTL() time.Duration {
	return max(time.Until(e.Expires), 0)
}

// Age is the time since the entry was written.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}

// valid reports whether the entry was written by this layout version and
// carries a deadline.
func (e *Entry) valid() bool {
	return e.Version == EntryVersion && !e.Expires.IsZero()
}
