package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/riot-api-client/pkg/client"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of keys in flight
	MaxConcurrency int

	// Timeout per key, covering retries and backoff (0 disables)
	Timeout time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		Timeout:        60 * time.Second,
	}
}

// FetchFunc fetches a single key. found is false when the key does not exist.
type FetchFunc[T any] func(ctx context.Context, key string) (value T, found bool, err error)

// Result holds the outcome of a batch.
type Result[T any] struct {
	Values  map[string]T
	Missing []string
	Failed  map[string]error
}

// FetchAll fetches every key in parallel. The returned error joins all
// per-key failures in key order; the Result is complete either way.
func FetchAll[T any](ctx context.Context, keys []string, fetch FetchFunc[T], cfg Config) (*Result[T], error) {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}

	start := time.Now()
	keys = dedupe(keys)

	result := &Result[T]{
		Values: make(map[string]T, len(keys)),
		Failed: make(map[string]error),
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(cfg.MaxConcurrency)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			mu.Lock()
			result.Failed[key] = err
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			keyCtx := ctx
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				keyCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
				defer cancel()
			}

			value, found, err := fetch(keyCtx, key)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed[key] = err
			case !found:
				result.Missing = append(result.Missing, key)
			default:
				result.Values[key] = value
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, key := range keys {
		if err, ok := result.Failed[key]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	event := log.Info()
	if len(errs) > 0 {
		event = log.Warn()
	}
	event.
		Str("component", "batch").
		Int("keys", len(keys)).
		Int("found", len(result.Values)).
		Int("missing", len(result.Missing)).
		Int("failed", len(result.Failed)).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return result, errors.Join(errs...)
}

// FetchResources fetches resources through c, keyed by Resource.Key.
func FetchResources[T any](ctx context.Context, c *client.Client, resources []client.Resource, cfg Config) (*Result[T], error) {
	byKey := make(map[string]client.Resource, len(resources))
	keys := make([]string, 0, len(resources))
	for _, res := range resources {
		if res.Key == "" {
			return nil, fmt.Errorf("%w: batch resources need a key", client.ErrInvalidRequest)
		}
		byKey[res.Key] = res
		keys = append(keys, res.Key)
	}

	return FetchAll(ctx, keys, func(ctx context.Context, key string) (T, bool, error) {
		return client.Fetch[T](ctx, c, byKey[key])
	}, cfg)
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
