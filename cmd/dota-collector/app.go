package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/dota-collector/internal/config"
	"github.com/Sternrassler/dota-collector/pkg/cache"
	"github.com/Sternrassler/dota-collector/pkg/checkpoint"
	"github.com/Sternrassler/dota-collector/pkg/client"
	"github.com/Sternrassler/dota-collector/pkg/clock"
	"github.com/Sternrassler/dota-collector/pkg/collector"
	"github.com/Sternrassler/dota-collector/pkg/logging"
	"github.com/Sternrassler/dota-collector/pkg/provider"
	"github.com/Sternrassler/dota-collector/pkg/ratelimit"
	"github.com/Sternrassler/dota-collector/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// defaultRequestsPerMinute applies to providers without an explicit budget.
const defaultRequestsPerMinute = 60

// app holds the components shared by all targets of one invocation.
type app struct {
	cfg      *config.Config
	redis    *redis.Client
	store    checkpoint.Store
	sink     sink.Sink
	clock    clock.Clock
	runStart time.Time

	clients []*client.Client
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		clock:    clock.Real(),
		runStart: time.Now().UTC(),
	}

	if cfg.NeedsRedis() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	switch cfg.Checkpoint.Backend {
	case "redis":
		a.store = checkpoint.NewRedisStore(a.redis)
	default:
		store, err := checkpoint.NewFileStore(cfg.Checkpoint.Dir)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
	}

	s, err := newSink(ctx, cfg.Output, a.runStart)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sink = s
	return a, nil
}

func newSink(ctx context.Context, out config.OutputConfig, runStart time.Time) (sink.Sink, error) {
	var sinks sink.Multi
	fail := func(err error) (sink.Sink, error) {
		sinks.Close()
		return nil, err
	}

	if out.PageFiles {
		s, err := sink.NewPageFiles(out.Dir)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if out.JSONL {
		s, err := sink.NewJSONL(out.Dir, runStart)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if out.SQLitePath != "" {
		s, err := sink.NewSQLite(out.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("sqlite sink: %w", err))
		}
		sinks = append(sinks, s)
	}
	if out.PostgresDSNEnv != "" {
		if out.PostgresDSN == "" {
			log.Warn().Str("env", out.PostgresDSNEnv).Msg("Postgres DSN variable is empty, sink disabled")
		} else {
			s, err := sink.NewPostgres(ctx, out.PostgresDSN)
			if err != nil {
				return fail(fmt.Errorf("postgres sink: %w", err))
			}
			sinks = append(sinks, s)
		}
	}

	if len(sinks) == 0 {
		return nil, errors.New("no sink enabled")
	}
	return sinks, nil
}

// collector builds a collector with its own client and rate budget.
func (a *app) collector(target config.TargetConfig) (*collector.Collector, error) {
	adapter, err := provider.New(a.cfg.ProviderConfig(target.Provider))
	if err != nil {
		return nil, err
	}
	pcfg := a.cfg.Provider(target.Provider)

	var rlStore ratelimit.Store = ratelimit.NewMemoryStore()
	if pcfg.SharedRateLimit {
		rlStore = ratelimit.NewRedisStore(a.redis)
	}
	rpm := pcfg.RequestsPerMinute
	if rpm == 0 {
		rpm = defaultRequestsPerMinute
	}
	tracker := ratelimit.NewTracker(ratelimit.Config{
		Provider:          adapter.Name(),
		RequestsPerMinute: rpm,
		Headers:           adapter.RateLimitHeaders(),
		Store:             rlStore,
		Clock:             a.clock,
	}, logging.NewLogger("ratelimit"))

	ccfg := client.DefaultConfig(adapter.Name(), a.cfg.UserAgent)
	ccfg.Timeout = a.cfg.Timeout
	ccfg.Retry = a.cfg.Retry
	ccfg.RateLimiter = tracker
	ccfg.Clock = a.clock
	if a.cfg.Cache.Enabled {
		ccfg.Cache = cache.NewManager(a.redis, a.cfg.Cache.Retention)
	}
	c, err := client.New(ccfg)
	if err != nil {
		return nil, err
	}
	a.clients = append(a.clients, c)

	logger := logging.NewLogger("collector")
	return collector.New(collector.Config{
		Target:        target.Name,
		Adapter:       adapter,
		Client:        c,
		Store:         a.store,
		Sink:          a.sink,
		Clock:         a.clock,
		DecodeRetries: decodeRetries(a.cfg.DecodeRetries),
		Logger:        &logger,
	})
}

// decodeRetries maps the configured count onto collector.Config, where zero
// selects the default and a negative value disables retries.
func decodeRetries(configured int) int {
	if configured == 0 {
		return -1
	}
	return configured
}

// request converts a target into a collection request.
func request(target config.TargetConfig) (collector.Request, error) {
	since, err := target.SinceTime()
	if err != nil {
		return collector.Request{}, err
	}
	return collector.Request{
		Endpoint:   target.Endpoint,
		Params:     target.Query(),
		PageSize:   target.PageSize,
		MaxRecords: target.MaxRecords,
		Since:      since,
	}, nil
}

// Close releases clients, sinks and the Redis connection.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.clients {
		errs = append(errs, c.Close())
	}
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
