package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/riot-api-client/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// recordScript extends the cooldown only when the new window ends later than
// the stored one, so concurrent 429s never shorten it.
var recordScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
redis.call('SET', KEYS[2], ARGV[3])
if tonumber(ARGV[1]) > current then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

// Tracker stores and enforces the shared cooldown.
type Tracker struct {
	redis   *redis.Client
	logger  zerolog.Logger
	metrics metrics.Sink
}

// NewTracker creates a new rate limit tracker. A nil sink disables metrics.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, sink metrics.Sink) *Tracker {
	if sink == nil {
		sink = metrics.Nop
	}
	return &Tracker{
		redis:   redisClient,
		logger:  logger.With().Str("component", "ratelimit").Logger(),
		metrics: sink,
	}
}

// GetState retrieves the current cooldown state from Redis.
// Returns an unlimited state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	values, err := t.redis.MGet(ctx, RedisKeyCooldownUntil, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	until, err := millis(values[0])
	if err != nil {
		return nil, fmt.Errorf("parse cooldown until: %w", err)
	}
	lastUpdate, err := millis(values[1])
	if err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	state := &RateLimitState{
		CooldownUntil: until,
		LastUpdate:    lastUpdate,
	}
	state.UpdateLimited(time.Now())

	return state, nil
}

// Record starts or extends the shared cooldown to end d from now.
func (t *Tracker) Record(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if d > MaxCooldown {
		t.logger.Warn().Dur("cooldown", d).Dur("max", MaxCooldown).Msg("Cooldown capped")
		d = MaxCooldown
	}

	now := time.Now()
	until := now.Add(d)

	extended, err := recordScript.Run(ctx, t.redis,
		[]string{RedisKeyCooldownUntil, RedisKeyLastUpdate},
		until.UnixMilli(), d.Milliseconds(), now.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("store cooldown in redis: %w", err)
	}

	t.metrics.Counter(metrics.RateLimitCooldowns).Inc()

	if extended == 1 {
		t.logger.Warn().
			Dur("cooldown", d).
			Time("until", until).
			Msg("Upstream rate limit hit - shared cooldown started")
	} else {
		t.logger.Debug().Dur("cooldown", d).Msg("Shared cooldown already covers this window")
	}
	return nil
}

// Wait blocks until no shared cooldown is active or ctx is done. Redis errors
// are returned unchanged so callers can decide to proceed without the check.
func (t *Tracker) Wait(ctx context.Context) error {
	var waited time.Duration
	defer func() {
		if waited > 0 {
			t.metrics.Timer(metrics.RateLimitWaits).Observe(waited)
		}
	}()

	for {
		state, err := t.GetState(ctx)
		if err != nil {
			return err
		}

		wait := state.TimeUntilReset()
		if wait <= 0 {
			return nil
		}

		t.logger.Debug().Dur("wait_duration", wait).Msg("Waiting for shared cooldown")

		start := time.Now()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			waited += time.Since(start)
			return ctx.Err()
		case <-timer.C:
			waited += time.Since(start)
		}
	}
}

// Clear removes the shared cooldown.
func (t *Tracker) Clear(ctx context.Context) error {
	if err := t.redis.Del(ctx, RedisKeyCooldownUntil, RedisKeyLastUpdate).Err(); err != nil {
		return fmt.Errorf("clear cooldown: %w", err)
	}
	return nil
}

// millis converts an MGET value holding unix milliseconds to a time.
func millis(v interface{}) (time.Time, error) {
	if v == nil {
		return time.Time{}, nil
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, errors.New("unexpected value type")
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
