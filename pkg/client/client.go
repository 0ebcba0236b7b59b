// Package client provides the Riot API HTTP client with bounded concurrency,
// retry, request coalescing and optional shared caching.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/riot-api-client/pkg/backoff"
	"github.com/Sternrassler/riot-api-client/pkg/cache"
	"github.com/Sternrassler/riot-api-client/pkg/coalesce"
	"github.com/Sternrassler/riot-api-client/pkg/gate"
	"github.com/Sternrassler/riot-api-client/pkg/logging"
	"github.com/Sternrassler/riot-api-client/pkg/metrics"
	"github.com/Sternrassler/riot-api-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DefaultAPIKeyHeader is the header carrying the API key.
const DefaultAPIKeyHeader = "X-Riot-Token"

// placeholderAPIKey is the value shipped in sample configuration files.
const placeholderAPIKey = "YOUR_API_KEY"

// Client is the main Riot API client.
type Client struct {
	httpClient *http.Client
	pipeline   *Pipeline
	group      *coalesce.Group[loaded]
	cache      *cache.Manager
	cooldown   *ratelimit.Tracker
	config     Config
	metrics    metrics.Sink
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// API key sent with every request
	APIKey string

	// Header the API key is sent in (default X-Riot-Token)
	APIKeyHeader string

	// User-Agent header (REQUIRED)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// Concurrency
	MaxConcurrency int // Max requests in flight per client

	// Retry
	MaxAttempts    int           // Attempts per logical request, including the first
	InitialBackoff time.Duration // Backoff before the first retry, doubled per attempt
	MaxBackoff     time.Duration // Cap on computed backoff; Retry-After is never capped
	RequestTimeout time.Duration // Per-attempt timeout

	// Pacing (optional, RateLimit 0 disables)
	RateLimit float64 // Requests per second
	RateBurst int

	// Circuit breaker (optional, BreakerThreshold 0 disables)
	BreakerThreshold int           // Consecutive 5xx/transport failures before opening
	BreakerCooldown  time.Duration // Time the breaker stays open

	// Redis enables the shared response cache and the shared 429 cooldown.
	Redis *redis.Client

	// Metrics sink (default metrics.Nop)
	Metrics metrics.Sink

	// HTTPClient overrides the transport (for testing).
	HTTPClient *http.Client

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey, userAgent string) Config {
	return Config{
		APIKey:          apiKey,
		APIKeyHeader:    DefaultAPIKeyHeader,
		UserAgent:       userAgent,
		MaxConcurrency:  gate.DefaultPermits,
		MaxAttempts:     3,
		InitialBackoff:  backoff.DefaultBase,
		MaxBackoff:      backoff.DefaultMax,
		RequestTimeout:  DefaultRequestTimeout,
		BreakerCooldown: 30 * time.Second,
		Metrics:         metrics.Nop,
	}
}

// New creates a new Riot API client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("max_concurrency must be >= 1 (got %d)", cfg.MaxConcurrency)
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff < 0 || cfg.RequestTimeout < 0 {
		return nil, fmt.Errorf("durations must not be negative")
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %v)", cfg.RateLimit)
	}
	if cfg.BreakerThreshold < 0 {
		return nil, fmt.Errorf("breaker_threshold must be >= 0 (got %d)", cfg.BreakerThreshold)
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop
	}

	// Initialize logger
	logger := log.With().Str("component", "riot-client").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	if cfg.APIKey == "" || cfg.APIKey == placeholderAPIKey {
		logger.Warn().Msg("API key is missing or still the placeholder; upstream will answer 401/403")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Attempts are bounded by a per-attempt context instead of Client.Timeout.
		httpClient = &http.Client{}
	}

	pcfg := PipelineConfig{
		Gate: gate.New(cfg.MaxConcurrency),
		Policy: backoff.Policy{
			Base: cfg.InitialBackoff,
			Max:  cfg.MaxBackoff,
		},
		MaxAttempts: cfg.MaxAttempts,
		Metrics:     cfg.Metrics,
		Logger:      logger,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		pcfg.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if cfg.BreakerThreshold > 0 {
		pcfg.Breaker = newBreaker(cfg, logger)
	}

	c := &Client{
		httpClient: httpClient,
		group:      coalesce.New[loaded](coalesce.DefaultShards),
		config:     cfg,
		metrics:    cfg.Metrics,
		logger:     logger,
	}

	if cfg.Redis != nil {
		c.cooldown = ratelimit.NewTracker(cfg.Redis, logger, cfg.Metrics)
		c.cache = cache.NewManager(cfg.Redis, cfg.Metrics)
		pcfg.Cooldown = c.cooldown
	}

	pipeline, err := NewPipeline(httpClient, pcfg)
	if err != nil {
		return nil, err
	}
	c.pipeline = pipeline

	return c, nil
}

func newBreaker(cfg Config, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	threshold := uint32(cfg.BreakerThreshold)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "riot-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// Resource identifies one upstream document.
type Resource struct {
	// Type names the kind of document (e.g. "MatchDetails"). It tags metrics
	// and logs and namespaces the cache.
	Type string

	// Key identifies the document within Type (e.g. a match ID). Requests
	// with the same Type and Key are coalesced. Empty uses URL.
	Key string

	// URL is the absolute upstream URL.
	URL string

	// Header holds extra request headers.
	Header http.Header

	// CacheTTL enables the shared cache for this resource when Redis is configured.
	CacheTTL time.Duration
}

func (r Resource) id() string {
	if r.Key != "" {
		return r.Key
	}
	return r.URL
}

func (r Resource) coalescingKey() string {
	return r.Type + "|" + r.id()
}

func (r Resource) cacheKey() cache.Key {
	return cache.Key{Type: r.Type, ID: r.id()}
}

// loaded is the value shared between coalesced callers.
type loaded struct {
	value any
	found bool
}

// Get sends one logical GET for res through the pipeline. It neither
// coalesces nor caches; use Fetch for that.
func (c *Client) Get(ctx context.Context, res Resource) (Outcome, error) {
	return c.pipeline.Send(ctx, c.request(res))
}

// Fetch returns the decoded document for res.
//
// found is false with a nil error when the upstream answers 404. Concurrent
// calls for the same resource share one upstream request and receive the same
// value or error. A caller whose ctx ends early stops waiting without
// affecting the shared request.
func Fetch[T any](ctx context.Context, c *Client, res Resource) (value T, found bool, err error) {
	if res.Type == "" {
		return value, false, fmt.Errorf("%w: resource type is required", ErrInvalidRequest)
	}

	if v, ok := fromCache[T](ctx, c, res); ok {
		return v, true, nil
	}

	// singleflight reports shared for the leader too; only joiners count.
	var leader atomic.Bool
	l, shared, err := c.group.Do(ctx, res.coalescingKey(), func(ctx context.Context) (loaded, error) {
		leader.Store(true)
		return load[T](ctx, c, res)
	})
	if shared && !leader.Load() {
		c.metrics.Counter(metrics.ClientCoalesced, "type", res.Type).Inc()
		c.logger.Debug().
			Str("type", res.Type).
			Str("id", logging.MaskID(res.id())).
			Msg("Joined in-flight request")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return value, false, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
		return value, false, err
	}
	if !l.found {
		return value, false, nil
	}

	v, ok := l.value.(T)
	if !ok {
		// Two call sites decoded the same resource into different types.
		return value, false, fmt.Errorf("resource %s: shared value has type %T, want %T", res.Type, l.value, value)
	}
	return v, true, nil
}

// load runs on a context detached from any single caller.
func load[T any](ctx context.Context, c *Client, res Resource) (loaded, error) {
	req := c.request(res)

	out, err := c.pipeline.Send(ctx, req)
	if err != nil {
		c.evict(ctx, res)
		return loaded{}, err
	}
	if out.Kind == OutcomeNotFound {
		return loaded{}, nil
	}

	v, err := Decode[T](out.Body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.RequestType = req.Type
			apiErr.URL = req.URL
			apiErr.Attempts = 1
		}
		c.logger.Error().
			Err(err).
			Str("type", res.Type).
			Str("id", req.LogID).
			Msg("Failed to decode response")
		c.evict(ctx, res)
		return loaded{}, err
	}

	c.store(ctx, res, out.Body)
	return loaded{value: v, found: true}, nil
}

func fromCache[T any](ctx context.Context, c *Client, res Resource) (T, bool) {
	var zero T
	if c.cache == nil || res.CacheTTL <= 0 {
		return zero, false
	}

	entry, err := c.cache.Get(ctx, res.cacheKey())
	if err != nil {
		switch {
		case errors.Is(err, cache.ErrInvalidEntry):
			c.logger.Warn().Err(err).Str("type", res.Type).Msg("Dropping invalid cache entry")
			c.evict(ctx, res)
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("type", res.Type).Msg("Cache get error")
		}
		return zero, false
	}

	v, err := Decode[T](entry.Data)
	if err != nil {
		c.logger.Warn().Err(err).Str("type", res.Type).Msg("Dropping undecodable cache entry")
		c.evict(ctx, res)
		return zero, false
	}
	return v, true
}

func (c *Client) store(ctx context.Context, res Resource, body []byte) {
	if c.cache == nil || res.CacheTTL <= 0 {
		return
	}
	if err := c.cache.Set(ctx, res.cacheKey(), cache.NewEntry(body, res.CacheTTL)); err != nil {
		c.logger.Warn().Err(err).Str("type", res.Type).Msg("Failed to cache response")
		return
	}
	c.logger.Debug().
		Str("type", res.Type).
		Str("id", logging.MaskID(res.id())).
		Dur("ttl", res.CacheTTL).
		Msg("Cached response")
}

// evict drops a cached entry after a failed load so the next caller retries.
func (c *Client) evict(ctx context.Context, res Resource) {
	if c.cache == nil || res.CacheTTL <= 0 {
		return
	}
	if err := c.cache.Delete(ctx, res.cacheKey()); err != nil {
		c.logger.Warn().Err(err).Str("type", res.Type).Msg("Failed to evict cache entry")
	}
}

func (c *Client) request(res Resource) Request {
	header := make(http.Header, len(res.Header)+3)
	if c.config.APIKey != "" {
		header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", c.config.UserAgent)
	for name, values := range res.Header {
		header[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}

	return Request{
		Method:  http.MethodGet,
		URL:     res.URL,
		Header:  header,
		Timeout: c.config.RequestTimeout,
		Type:    res.Type,
		LogID:   logging.MaskID(res.id()),
	}
}

// Pipeline returns the send pipeline.
func (c *Client) Pipeline() *Pipeline {
	return c.pipeline
}

// GetCache returns the cache manager, nil without Redis.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}

// Close releases idle upstream connections. The Redis client is owned by the caller.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
