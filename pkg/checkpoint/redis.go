package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKeyCursor is the key template of a target cursor.
const RedisKeyCursor = "dota:cursor:%s"

// RedisStore shares cursors between collector hosts.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed cursor store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

// Load fetches the cursor of target.
func (s *RedisStore) Load(ctx context.Context, target string) (*State, error) {
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}

	data, err := s.redis.Get(ctx, fmt.Sprintf(RedisKeyCursor, target)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get cursor: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	return &state, nil
}

// Save stores the cursor without expiry.
func (s *RedisStore) Save(ctx context.Context, state State) error {
	if err := ValidateTarget(state.Target); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	if err := s.redis.Set(ctx, fmt.Sprintf(RedisKeyCursor, state.Target), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set cursor: %w", err)
	}
	return nil
}

// Reset deletes the cursor of target.
func (s *RedisStore) Reset(ctx context.Context, target string) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}
	if err := s.redis.Del(ctx, fmt.Sprintf(RedisKeyCursor, target)).Err(); err != nil {
		return fmt.Errorf("redis del cursor: %w", err)
	}
	return nil
}
