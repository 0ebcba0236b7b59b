// Package backoff computes retry delays for upstream requests.
//
// A server hint (Retry-After) always wins and is floored at one second.
// Without a hint the delay grows exponentially from Base and gets a small
// random jitter so concurrent callers do not retry in lockstep.
package backoff

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBase is the delay before the first retry, before jitter.
	DefaultBase = 2 * time.Second

	// DefaultMax caps the exponential part of the delay.
	DefaultMax = 30 * time.Second

	// MinRetryAfter is the floor applied to server hints.
	MinRetryAfter = time.Second

	// JitterMin and JitterMax bound the default jitter: [JitterMin, JitterMax).
	JitterMin = 100 * time.Millisecond
	JitterMax = 400 * time.Millisecond

	// maxShift keeps Base<<shift from overflowing.
	maxShift = 30
)

// JitterFunc returns the random component added to exponential delays.
type JitterFunc func() time.Duration

// UniformJitter returns a uniformly random duration in [JitterMin, JitterMax).
func UniformJitter() time.Duration {
	return JitterMin + rand.N(JitterMax-JitterMin)
}

// FixedJitter returns a JitterFunc that always yields d.
func FixedJitter(d time.Duration) JitterFunc {
	return func() time.Duration { return d }
}

// Hint is an optional server-provided retry delay.
type Hint struct {
	After time.Duration
	Valid bool
}

// NoHint is the absent hint.
var NoHint = Hint{}

// HintSeconds builds a hint from integer seconds.
func HintSeconds(s int64) Hint {
	return Hint{After: time.Duration(s) * time.Second, Valid: true}
}

// Policy computes retry delays. The zero value is usable and behaves like
// DefaultPolicy.
type Policy struct {
	// Base is the delay for attempt 1; attempt n waits Base * 2^(n-1).
	Base time.Duration

	// Max caps the exponential part; zero means DefaultMax, negative disables the cap.
	Max time.Duration

	// Jitter is added to every exponential delay. Nil means UniformJitter.
	Jitter JitterFunc
}

// DefaultPolicy returns the standard policy: 2s base, 30s cap, 100-400ms jitter.
func DefaultPolicy() Policy {
	return Policy{
		Base:   DefaultBase,
		Max:    DefaultMax,
		Jitter: UniformJitter,
	}
}

// Delay returns how long to wait after the given failed attempt (1-based)
// before sending the next one.
func (p Policy) Delay(attempt int, hint Hint) time.Duration {
	if hint.Valid {
		return max(MinRetryAfter, hint.After)
	}

	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	limit := p.Max
	if limit == 0 {
		limit = DefaultMax
	}

	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxShift {
		shift = maxShift
	}

	delay := base << shift
	switch {
	case limit > 0 && (delay <= 0 || delay > limit):
		delay = limit
	case delay <= 0:
		delay = base
	}

	jitter := p.Jitter
	if jitter == nil {
		jitter = UniformJitter
	}
	return delay + jitter()
}

// ParseRetryAfter reads a Retry-After header value. It accepts non-negative
// delta-seconds and HTTP-dates; anything else yields NoHint.
func ParseRetryAfter(value string, now time.Time) Hint {
	value = strings.TrimSpace(value)
	if value == "" {
		return NoHint
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return NoHint
		}
		return HintSeconds(seconds)
	}

	if at, err := http.ParseTime(value); err == nil {
		seconds := int64(at.Sub(now) / time.Second)
		return HintSeconds(max(1, seconds))
	}

	return NoHint
}
