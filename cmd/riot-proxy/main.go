package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/riot-api-client/pkg/client"
	"github.com/Sternrassler/riot-api-client/pkg/logging"
	"github.com/Sternrassler/riot-api-client/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// config is the proxy configuration read from the environment.
type config struct {
	Port        string
	RedisURL    string
	UpstreamURL string
	CacheTTL    time.Duration
	CacheTTLs   map[string]time.Duration
	Client      client.Config
}

func main() {
	logCfg := logging.FromEnv(os.Getenv)
	logCfg.Service = "riot-proxy"
	logging.Setup(logCfg)
	logger := logging.NewLogger("riot-proxy")

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Setup Redis (optional)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = newRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("redis", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")
	}

	cfg.Client.Redis = redisClient
	cfg.Client.Metrics = metrics.NewPrometheus(metrics.Registry, "riot")

	riotClient, err := client.New(cfg.Client)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create client")
	}
	defer riotClient.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newMux(riotClient, redisClient, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("upstream", cfg.UpstreamURL).
			Str("user_agent", cfg.Client.UserAgent).
			Int("max_concurrency", cfg.Client.MaxConcurrency).
			Msg("Starting proxy server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

func newMux(c *client.Client, redisClient *redis.Client, cfg config) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(redisClient))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/{type}/{path...}", proxyHandler(c, cfg))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// proxyHandler serves GET /api/{type}/{path...} from upstream {path...}.
// Example: /api/MatchDetails/lol/match/v5/matches/EUW1_123
func proxyHandler(c *client.Client, cfg config) http.HandlerFunc {
	logger := logging.NewLogger("riot-proxy")

	return func(w http.ResponseWriter, r *http.Request) {
		resType := r.PathValue("type")
		path := r.PathValue("path")
		if resType == "" || path == "" {
			writeError(w, http.StatusBadRequest, "type and path are required")
			return
		}

		key := path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}

		res := client.Resource{
			Type:     resType,
			Key:      key,
			URL:      strings.TrimRight(cfg.UpstreamURL, "/") + "/" + key,
			CacheTTL: cfg.ttlFor(resType),
		}

		body, found, err := client.Fetch[json.RawMessage](r.Context(), c, res)
		if err != nil {
			status := statusFor(err)
			logEvent := logger.Warn()
			if status >= 500 && status != http.StatusGatewayTimeout {
				logEvent = logger.Error()
			}
			logEvent.Err(err).
				Str("type", resType).
				Str("id", logging.MaskID(key)).
				Int("status", status).
				Msg("Proxy request failed")
			writeError(w, status, err.Error())
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			logger.Debug().Err(err).Msg("Failed to write response")
		}
	}
}

// statusFor maps a client error to the proxy's response status.
func statusFor(err error) int {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrContextCancelled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, client.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, client.ErrPacingDeadline),
		errors.As(err, &apiErr) && apiErr.Class == client.ErrorClassRateLimit:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "error": msg})
}

func (c config) ttlFor(resType string) time.Duration {
	if ttl, ok := c.CacheTTLs[resType]; ok {
		return ttl
	}
	return c.CacheTTL
}

func loadConfig(getenv func(string) string) (config, error) {
	env := func(key, defaultValue string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return defaultValue
	}

	clientCfg := client.DefaultConfig(
		getenv("RIOT_API_KEY"),
		env("USER_AGENT", "riot-api-client/0.1.0"),
	)
	clientCfg.APIKeyHeader = env("API_KEY_HEADER", client.DefaultAPIKeyHeader)

	var err error
	if clientCfg.MaxConcurrency, err = envInt(env, "MAX_CONCURRENCY", clientCfg.MaxConcurrency); err != nil {
		return config{}, err
	}
	if clientCfg.MaxAttempts, err = envInt(env, "MAX_ATTEMPTS", clientCfg.MaxAttempts); err != nil {
		return config{}, err
	}
	if clientCfg.InitialBackoff, err = envDuration(env, "INITIAL_BACKOFF", clientCfg.InitialBackoff); err != nil {
		return config{}, err
	}
	if clientCfg.RequestTimeout, err = envDuration(env, "REQUEST_TIMEOUT", clientCfg.RequestTimeout); err != nil {
		return config{}, err
	}
	if clientCfg.RateLimit, err = envFloat(env, "RATE_LIMIT", 0); err != nil {
		return config{}, err
	}
	if clientCfg.RateBurst, err = envInt(env, "RATE_BURST", 1); err != nil {
		return config{}, err
	}
	if clientCfg.BreakerThreshold, err = envInt(env, "BREAKER_THRESHOLD", 0); err != nil {
		return config{}, err
	}

	cacheTTL, err := envDuration(env, "CACHE_TTL", 5*time.Minute)
	if err != nil {
		return config{}, err
	}
	cacheTTLs, err := parseTTLs(getenv("CACHE_TTLS"))
	if err != nil {
		return config{}, err
	}

	logger := logging.NewLogger("riot-client")
	clientCfg.Logger = &logger

	return config{
		Port:        env("PORT", "8080"),
		RedisURL:    getenv("REDIS_URL"),
		UpstreamURL: env("UPSTREAM_URL", "https://europe.api.riotgames.com"),
		CacheTTL:    cacheTTL,
		CacheTTLs:   cacheTTLs,
		Client:      clientCfg,
	}, nil
}

// parseTTLs reads "Type=duration" pairs separated by commas,
// e.g. "MatchDetails=24h,Summoner=10m".
func parseTTLs(value string) (map[string]time.Duration, error) {
	ttls := make(map[string]time.Duration)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("CACHE_TTLS: malformed entry %q", pair)
		}
		ttl, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("CACHE_TTLS: %s: %w", name, err)
		}
		ttls[strings.TrimSpace(name)] = ttl
	}
	return ttls, nil
}

func newRedis(value string) (*redis.Client, error) {
	if strings.Contains(value, "://") {
		opts, err := redis.ParseURL(value)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: value}), nil
}

func envInt(env func(string, string) string, key string, defaultValue int) (int, error) {
	raw := env(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envFloat(env func(string, string) string, key string, defaultValue float64) (float64, error) {
	raw := env(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envDuration(env func(string, string) string, key string, defaultValue time.Duration) (time.Duration, error) {
	raw := env(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
