//go:build integration

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
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

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_SharedAcrossInstances(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	first := NewTracker(redisClient, zerolog.Nop(), nil)
	second := NewTracker(redisClient, zerolog.Nop(), nil)
	ctx := context.Background()

	if err := first.Record(ctx, 500*time.Millisecond); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	state, err := second.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.Limited {
		t.Fatal("second instance does not see the cooldown")
	}

	start := time.Now()
	if err := second.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if waited := time.Since(start); waited < 400*time.Millisecond {
		t.Errorf("Wait() returned after %v, want >= 400ms", waited)
	}
}

func TestTracker_Integration_ConcurrentRecords(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := NewTracker(redisClient, zerolog.Nop(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(seconds int) {
			defer wg.Done()
			if err := tracker.Record(ctx, time.Duration(seconds)*time.Second); err != nil {
				t.Errorf("Record() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	// The longest window wins regardless of arrival order.
	if got := state.TimeUntilReset(); got < 19*time.Second {
		t.Errorf("TimeUntilReset() = %v, want about 20s", got)
	}
}
