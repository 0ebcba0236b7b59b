//go:build integration

package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/riot-api-client/internal/testutil"
	"github.com/Sternrassler/riot-api-client/pkg/cache"
	"github.com/Sternrassler/riot-api-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_FetchThroughSharedCache(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockUpstream()
	defer mock.Close()
	resp := testutil.NewOKResponse(matchBody)
	resp.Delay = 100 * time.Millisecond
	mock.Script(matchPath, resp)

	// Two clients sharing one Redis behave like two service replicas.
	first := newTestClient(t, func(cfg *Config) { cfg.Redis = redisClient })
	second := newTestClient(t, func(cfg *Config) { cfg.Redis = redisClient })

	res := matchResource(mock.URL())
	res.CacheTTL = time.Minute
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := Fetch[matchDTO](ctx, first, res); err != nil {
				t.Errorf("Fetch() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, found, err := Fetch[matchDTO](ctx, second, res)
	if err != nil || !found {
		t.Fatalf("Fetch() via second client = (%v, %v)", found, err)
	}
	if got.Metadata.MatchID != "EUW1_123" {
		t.Errorf("MatchID = %q, want EUW1_123", got.Metadata.MatchID)
	}
	if n := mock.Count(matchPath); n != 1 {
		t.Errorf("upstream requests = %d, want 1", n)
	}

	if _, err := first.GetCache().Get(ctx, cache.Key{Type: "MatchDetails", ID: "EUW1_123"}); err != nil {
		t.Errorf("cache Get() error = %v", err)
	}
}

func TestIntegration_SharedCooldown(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.Script(matchPath, testutil.NewRateLimitResponse(2), testutil.NewOKResponse(matchBody))
	otherPath := "/lol/match/v5/matches/EUW1_456"
	mock.Script(otherPath, testutil.NewOKResponse(matchBody))

	first := newTestClient(t, func(cfg *Config) { cfg.Redis = redisClient })
	second := newTestClient(t, func(cfg *Config) { cfg.Redis = redisClient })
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, _, err := Fetch[matchDTO](ctx, first, matchResource(mock.URL()))
		done <- err
	}()

	// Wait until the 429 has been recorded in Redis.
	tracker := ratelimit.NewTracker(redisClient, zerolog.Nop(), nil)
	deadline := time.Now().Add(time.Second)
	for {
		state, err := tracker.GetState(ctx)
		if err == nil && state.Limited {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cooldown was never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	start := time.Now()
	other := Resource{Type: "MatchDetails", Key: "EUW1_456", URL: mock.URL() + otherPath}
	if _, _, err := Fetch[matchDTO](ctx, second, other); err != nil {
		t.Fatalf("Fetch() via second client error = %v", err)
	}
	if waited := time.Since(start); waited < time.Second {
		t.Errorf("second client waited %v, want it to honor the shared cooldown", waited)
	}

	if err := <-done; err != nil {
		t.Errorf("first client error = %v", err)
	}
}

func TestIntegration_NotFoundIsNotCached(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockUpstream()
	defer mock.Close()

	c := newTestClient(t, func(cfg *Config) { cfg.Redis = redisClient })
	res := matchResource(mock.URL())
	res.CacheTTL = time.Minute
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, found, err := Fetch[matchDTO](ctx, c, res); err != nil || found {
			t.Fatalf("Fetch() = (%v, %v), want not found", found, err)
		}
	}
	if n := mock.Count(matchPath); n != 2 {
		t.Errorf("upstream requests = %d, want 2", n)
	}
	if _, err := c.GetCache().Get(ctx, cache.Key{Type: "MatchDetails", ID: "EUW1_123"}); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("cache Get() error = %v, want ErrCacheMiss", err)
	}
}
