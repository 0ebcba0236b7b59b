// Package ratelimit shares upstream rate limit cooldowns between client
// instances. When one instance receives a 429 with Retry-After, the window is
// stored in Redis and every instance holds new requests until it has passed.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyCooldownUntil = "riot:rate_limit:cooldown_until"
	RedisKeyLastUpdate    = "riot:rate_limit:last_update"
)

// MaxCooldown caps a single recorded cooldown so a bogus Retry-After cannot
// stall every instance indefinitely.
const MaxCooldown = 10 * time.Minute

// RateLimitState represents the shared cooldown state.
// This state is shared across all client instances via Redis.
type RateLimitState struct {
	// CooldownUntil is the time before which no request should be sent.
	// Zero when no cooldown has been recorded or the last one expired.
	CooldownUntil time.Time `json:"cooldown_until"`

	// LastUpdate is the time the last 429 was recorded.
	LastUpdate time.Time `json:"last_update"`

	// Limited is true while CooldownUntil lies in the future.
	Limited bool `json:"limited"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// TimeUntilReset returns the duration until the cooldown ends.
// Returns 0 if the cooldown has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.CooldownUntil)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateLimited updates the Limited field relative to now.
func (s *RateLimitState) UpdateLimited(now time.Time) {
	s.Limited = s.CooldownUntil.After(now)
}
