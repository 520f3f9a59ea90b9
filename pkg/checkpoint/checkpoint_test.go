package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Load(ctx, "pro_matches")
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

	state := State{
		Target:    "pro_matches",
		LastID:    8123456789,
		UpdatedAt: time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC),
		Records:   300,
	}
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "pro_matches")
	require.NoError(t, err)
	assert.Equal(t, state.LastID, loaded.LastID)
	assert.Equal(t, state.Records, loaded.Records)
	assert.True(t, state.UpdatedAt.Equal(loaded.UpdatedAt))

	state.LastID = 8123456000
	require.NoError(t, store.Save(ctx, state))
	loaded, err = store.Load(ctx, "pro_matches")
	require.NoError(t, err)
	assert.Equal(t, int64(8123456000), loaded.LastID)

	require.NoError(t, store.Reset(ctx, "pro_matches"))
	_, err = store.Load(ctx, "pro_matches")
	assert.ErrorIs(t, err, ErrNotFound)

	// Resetting a missing cursor is not an error.
	assert.NoError(t, store.Reset(ctx, "pro_matches"))

	assert.Error(t, store.Save(ctx, State{Target: "../escape"}))
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	storeContract(t, store)
}

func TestRedisStore(t *testing.T) {
	storeContract(t, NewRedisStore(setupTestRedis(t)))
}

func TestFileStore_FileFormat(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), State{
		Target:    "teams",
		LastID:    4,
		UpdatedAt: time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC),
	}))

	data, err := os.ReadFile(filepath.Join(dir, "teams.cursor.json"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "teams", raw["target"])
	assert.Equal(t, float64(4), raw["last_id"])
	assert.Equal(t, "2025-08-05T12:00:00Z", raw["updated_at"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.Path("matches"), []byte("{not json"), 0o644))

	_, err = store.Load(context.Background(), "matches")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestValidateTarget(t *testing.T) {
	for _, name := range []string{"pro_matches", "teams", "steam-history.v1", "A1"} {
		assert.NoError(t, ValidateTarget(name), name)
	}
	for _, name := range []string{"", "../x", "a/b", ".hidden", "with space"} {
		assert.Error(t, ValidateTarget(name), name)
	}
}
