package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists rate limit state per provider. Load returns (nil, nil) when
// nothing is stored yet.
type Store interface {
	Load(ctx context.Context, provider string) (*State, error)
	Save(ctx context.Context, provider string, state *State) error
}

// MemoryStore keeps state in process.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Load(_ context.Context, provider string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[provider]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, provider string, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[provider] = *state
	return nil
}

// RedisStore shares state between collector processes using the same API key.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func (r *RedisStore) Load(ctx context.Context, provider string) (*State, error) {
	remaining, err := r.redis.Get(ctx, fmt.Sprintf(RedisKeyRemaining, provider)).Int()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetAt, err := r.redis.Get(ctx, fmt.Sprintf(RedisKeyResetAt, provider)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastRequest, err := r.redis.Get(ctx, fmt.Sprintf(RedisKeyLastRequest, provider)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last request: %w", err)
	}

	state := &State{
		Remaining: remaining,
		ResetAt:   time.UnixMilli(resetAt),
	}
	if lastRequest > 0 {
		state.LastRequest = time.UnixMilli(lastRequest)
	}
	return state, nil
}

func (r *RedisStore) Save(ctx context.Context, provider string, state *State) error {
	pipe := r.redis.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(RedisKeyRemaining, provider), state.Remaining, 0)
	pipe.Set(ctx, fmt.Sprintf(RedisKeyResetAt, provider), state.ResetAt.UnixMilli(), 0)
	if !state.LastRequest.IsZero() {
		pipe.Set(ctx, fmt.Sprintf(RedisKeyLastRequest, provider), state.LastRequest.UnixMilli(), 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
