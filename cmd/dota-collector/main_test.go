package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/dota-collector/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, api *testutil.FixtureAPI) (string, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := fmt.Sprintf(`
log:
  level: error
user_agent: "dota-collector-test/1.0"
target_timeout: 1m
output:
  dir: %[1]s/out
  page_files: true
  jsonl: true
  sqlite_path: %[1]s/out/records.db
checkpoint:
  backend: file
  dir: %[1]s/state
providers:
  opendota:
    base_url: %[2]s
    requests_per_minute: 60000
  pandascore:
    base_url: %[2]s
    requests_per_minute: 60000
targets:
  - name: pro_matches
    provider: opendota
    endpoint: /matches
    page_size: 100
  - name: teams
    provider: pandascore
    endpoint: /teams
    page_size: 50
  - name: heroes
    provider: opendota
    endpoint: /heroes
    snapshot: true
`, dir, api.URL())

	path := filepath.Join(dir, "collector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCollectAndResume(t *testing.T) {
	api := testutil.NewFixtureAPI(1000, 0)
	defer api.Close()
	path, dir := writeConfig(t, api)

	out, err := execute(t, "--config", path, "collect", "pro_matches", "--max-records", "150")
	require.NoError(t, err)
	assert.Contains(t, out, "pro_matches: max_records, 150 records in 2 pages, cursor 0 -> 851")

	out, err = execute(t, "--config", path, "collect", "pro_matches", "--max-records", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "cursor 851 -> 801")

	out, err = execute(t, "--config", path, "cursor", "show", "pro_matches")
	require.NoError(t, err)
	assert.Contains(t, out, "pro_matches: cursor 801, 200 records")

	pages, err := filepath.Glob(filepath.Join(dir, "out", "pro_matches", "*.json"))
	require.NoError(t, err)
	assert.Len(t, pages, 3)

	jsonl, err := filepath.Glob(filepath.Join(dir, "out", "pro_matches_*.jsonl"))
	require.NoError(t, err)
	assert.NotEmpty(t, jsonl)

	out, err = execute(t, "--config", path, "cursor", "reset", "pro_matches")
	require.NoError(t, err)
	assert.Contains(t, out, "cursor reset")

	out, err = execute(t, "--config", path, "cursor", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "pro_matches: no cursor")
}

func TestCollectFailurePrintsCursor(t *testing.T) {
	api := testutil.NewFixtureAPI(1000, 0)
	defer api.Close()
	path, _ := writeConfig(t, api)

	_, err := execute(t, "--config", path, "collect", "pro_matches", "--max-records", "100")
	require.NoError(t, err)

	api.Enqueue(testutil.NewBadRequestResponse())
	out, err := execute(t, "--config", path, "collect", "pro_matches", "--max-records", "100")
	require.Error(t, err)
	assert.Contains(t, out, "pro_matches: failed, terminal cursor 901")
}

func TestCollectAll(t *testing.T) {
	api := testutil.NewFixtureAPI(120, 75)
	defer api.Close()
	path, _ := writeConfig(t, api)

	out, err := execute(t, "--config", path, "collect-all")
	require.NoError(t, err)

	assert.Contains(t, out, "heroes: snapshot of /heroes, 2 records")
	assert.Contains(t, out, "pro_matches: exhausted, 120 records in 2 pages")
	assert.Contains(t, out, "teams: exhausted, 75 records in 2 pages, cursor 0 -> 2")
}

func TestSnapshotCommand(t *testing.T) {
	api := testutil.NewFixtureAPI(0, 0)
	defer api.Close()
	path, dir := writeConfig(t, api)

	out, err := execute(t, "--config", path, "snapshot", "heroes")
	require.NoError(t, err)
	assert.Equal(t, "heroes: snapshot of /heroes, 2 records\n", out)

	_, err = os.Stat(filepath.Join(dir, "out", "heroes", "heroes_0_0.json"))
	assert.NoError(t, err)
}

func TestUnknownTarget(t *testing.T) {
	api := testutil.NewFixtureAPI(0, 0)
	defer api.Close()
	path, _ := writeConfig(t, api)

	_, err := execute(t, "--config", path, "collect", "nope")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown target"))
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "cursor", "show")
	assert.ErrorContains(t, err, "read config")
}

func TestDecodeRetries(t *testing.T) {
	tests := []struct {
		configured int
		want       int
	}{
		{configured: 0, want: -1},
		{configured: 1, want: 1},
		{configured: 3, want: 3},
	}

	for _, tt := range tests {
		if got := decodeRetries(tt.configured); got != tt.want {
			t.Errorf("decodeRetries(%d) = %d, want %d", tt.configured, got, tt.want)
		}
	}
}
