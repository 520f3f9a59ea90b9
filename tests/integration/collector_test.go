//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Sternrassler/dota-collector/internal/testutil"
	"github.com/Sternrassler/dota-collector/pkg/cache"
	"github.com/Sternrassler/dota-collector/pkg/checkpoint"
	"github.com/Sternrassler/dota-collector/pkg/client"
	"github.com/Sternrassler/dota-collector/pkg/collector"
	"github.com/Sternrassler/dota-collector/pkg/provider"
	"github.com/Sternrassler/dota-collector/pkg/ratelimit"
	"github.com/Sternrassler/dota-collector/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})

	return redisClient
}

// setupPostgres creates a Postgres container and returns its DSN.
func setupPostgres(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "collector",
			"POSTGRES_PASSWORD": "collector",
			"POSTGRES_DB":       "dota",
		},
		// The server restarts once after initdb.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return fmt.Sprintf("postgres://collector:collector@%s:%s/dota?sslmode=disable", host, port.Port())
}

func newClient(t *testing.T, fake *testutil.FakeClock, adapter provider.Adapter, redisClient *redis.Client, withCache bool) *client.Client {
	t.Helper()

	tracker := ratelimit.NewTracker(ratelimit.Config{
		Provider:          adapter.Name(),
		RequestsPerMinute: 600,
		Headers:           adapter.RateLimitHeaders(),
		Store:             ratelimit.NewRedisStore(redisClient),
		Clock:             fake,
	}, zerolog.Nop())

	cfg := client.DefaultConfig(adapter.Name(), "dota-collector-integration/1.0")
	cfg.Clock = fake
	cfg.Retry.Jitter = 0
	cfg.RateLimiter = tracker
	if withCache {
		cfg.Cache = cache.NewManager(redisClient, time.Hour)
	}

	c, err := client.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// TestCollectResumeAcrossRuns runs the full stack: Redis cursor store and
// rate limit state, page files and Postgres as sinks.
func TestCollectResumeAcrossRuns(t *testing.T) {
	ctx := context.Background()
	redisClient := setupRedis(t)
	pg, err := sink.NewPostgres(ctx, setupPostgres(t))
	require.NoError(t, err)

	pages, err := sink.NewPageFiles(t.TempDir())
	require.NoError(t, err)

	out := sink.Multi{pages, pg}
	defer out.Close()

	api := testutil.NewFixtureAPI(1000, 0)
	defer api.Close()

	fake := testutil.NewFakeClock(time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC))
	adapter := provider.NewOpenDota(api.URL(), "secret-key")
	store := checkpoint.NewRedisStore(redisClient)

	logger := zerolog.Nop()
	c, err := collector.New(collector.Config{
		Target:  "pro_matches",
		Adapter: adapter,
		Client:  newClient(t, fake, adapter, redisClient, false),
		Store:   store,
		Sink:    out,
		Clock:   fake,
		Logger:  &logger,
	})
	require.NoError(t, err)

	req := collector.Request{Endpoint: testutil.MatchesPath, PageSize: 100, MaxRecords: 250}

	first, err := c.Collect(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, collector.StopMaxRecords, first.StopReason)
	assert.Equal(t, 3, first.Pages)
	assert.Equal(t, int64(751), first.TerminalCursor)

	state, err := store.Load(ctx, "pro_matches")
	require.NoError(t, err)
	assert.Equal(t, int64(751), state.LastID)

	second, err := c.Collect(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(751), second.InitialCursor)
	assert.Equal(t, int64(501), second.TerminalCursor)

	n, err := pg.Count(ctx, "pro_matches")
	require.NoError(t, err)
	assert.Equal(t, 500, n, "resumed runs must not overlap")

	// Replaying the last page leaves the table unchanged.
	require.NoError(t, store.Save(ctx, checkpoint.State{Target: "pro_matches", LastID: 601}))
	_, err = c.Collect(ctx, collector.Request{Endpoint: testutil.MatchesPath, PageSize: 100, MaxRecords: 100})
	require.NoError(t, err)

	n, err = pg.Count(ctx, "pro_matches")
	require.NoError(t, err)
	assert.Equal(t, 500, n)
}

func TestCollectFailureKeepsRedisCursor(t *testing.T) {
	ctx := context.Background()
	redisClient := setupRedis(t)

	api := testutil.NewFixtureAPI(1000, 0)
	defer api.Close()

	fake := testutil.NewFakeClock(time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC))
	adapter := provider.NewOpenDota(api.URL(), "")
	store := checkpoint.NewRedisStore(redisClient)

	pages, err := sink.NewPageFiles(t.TempDir())
	require.NoError(t, err)

	logger := zerolog.Nop()
	c, err := collector.New(collector.Config{
		Target:  "pro_matches",
		Adapter: adapter,
		Client:  newClient(t, fake, adapter, redisClient, false),
		Store:   store,
		Sink:    pages,
		Clock:   fake,
		Logger:  &logger,
	})
	require.NoError(t, err)

	_, err = c.Collect(ctx, collector.Request{Endpoint: testutil.MatchesPath, PageSize: 100, MaxRecords: 100})
	require.NoError(t, err)

	api.Enqueue(testutil.NewBadRequestResponse())
	run, err := c.Collect(ctx, collector.Request{Endpoint: testutil.MatchesPath, PageSize: 100})
	require.Error(t, err)

	var runErr *collector.RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, int64(901), runErr.Cursor)
	assert.Equal(t, int64(901), run.TerminalCursor)

	state, err := store.Load(ctx, "pro_matches")
	require.NoError(t, err)
	assert.Equal(t, int64(901), state.LastID)
}

func TestSnapshotServedFromRedisCache(t *testing.T) {
	ctx := context.Background()
	redisClient := setupRedis(t)

	api := testutil.NewFixtureAPI(0, 0)
	defer api.Close()

	fake := testutil.NewFakeClock(time.Now())
	adapter := provider.NewOpenDota(api.URL(), "")

	pages, err := sink.NewPageFiles(t.TempDir())
	require.NoError(t, err)

	logger := zerolog.Nop()
	c, err := collector.New(collector.Config{
		Target:  "heroes",
		Adapter: adapter,
		Client:  newClient(t, fake, adapter, redisClient, true),
		Store:   checkpoint.NewRedisStore(redisClient),
		Sink:    pages,
		Clock:   fake,
		Logger:  &logger,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		n, err := c.Snapshot(ctx, testutil.HeroesPath, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
	assert.Equal(t, 1, api.RequestCount(), "second snapshot should be a cache hit")

	fake.Advance(cache.DefaultTTL + time.Minute)
	n, err := c.Snapshot(ctx, testutil.HeroesPath, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, `"heroes-v1"`, api.LastHeader().Get("If-None-Match"))

	_, err = checkpoint.NewRedisStore(redisClient).Load(ctx, "heroes")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound, "snapshots leave the cursor untouched")
}

func TestRateLimitStateSharedThroughRedis(t *testing.T) {
	ctx := context.Background()
	redisClient := setupRedis(t)
	store := ratelimit.NewRedisStore(redisClient)

	fake := testutil.NewFakeClock(time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC))
	newTracker := func() *ratelimit.Tracker {
		return ratelimit.NewTracker(ratelimit.Config{
			Provider:          provider.OpenDota,
			RequestsPerMinute: 60,
			Store:             store,
			Clock:             fake,
		}, zerolog.Nop())
	}

	a, b := newTracker(), newTracker()

	require.NoError(t, a.Wait(ctx))
	require.NoError(t, b.Wait(ctx))

	// The second worker sees the first one's slot and waits out the interval.
	assert.Equal(t, []time.Duration{time.Second}, fake.PositiveSleeps())

	state, err := a.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, fake.Now().UnixMilli(), state.LastRequest.UnixMilli())
}
