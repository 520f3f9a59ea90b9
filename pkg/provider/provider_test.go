package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/Sternrassler/dota-collector/pkg/client"
	"github.com/Sternrassler/dota-collector/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(ids ...int64) []model.Record {
	out := make([]model.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Record{ID: id})
	}
	return out
}

func TestNew(t *testing.T) {
	for _, name := range []string{OpenDota, PandaScore, Steam, "OpenDota"} {
		a, err := New(Config{Name: name})
		require.NoError(t, err, name)
		assert.NotEmpty(t, a.Name())
	}

	_, err := New(Config{Name: "dotabuff"})
	assert.Error(t, err)

	_, err = New(Config{Name: Stratz})
	assert.Error(t, err, "stratz without query must fail")

	a, err := New(Config{Name: Stratz, Query: "query { x }", DataPath: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, Stratz, a.Name())
}

func TestOpenDota_NewRequest(t *testing.T) {
	a := NewOpenDota("https://api.example.test/api/", "secret")

	req, err := a.NewRequest(context.Background(), Call{
		Endpoint: "/proMatches",
		Params:   url.Values{"league_id": {"15728"}},
		Cursor:   7800000000,
		PageSize: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, "api.example.test", req.URL.Host)
	assert.Equal(t, "/api/proMatches", req.URL.Path)
	q := req.URL.Query()
	assert.Equal(t, "7800000000", q.Get("less_than_match_id"))
	assert.Equal(t, "100", q.Get("limit"))
	assert.Equal(t, "secret", q.Get("api_key"))
	assert.Equal(t, "15728", q.Get("league_id"))

	first, err := a.NewRequest(context.Background(), Call{Endpoint: "/proMatches"})
	require.NoError(t, err)
	assert.False(t, first.URL.Query().Has("less_than_match_id"), "no cursor param without a cursor")
}

func TestOpenDota_DecodePage(t *testing.T) {
	a := NewOpenDota("", "")

	batch, err := a.DecodePage([]byte(`[
		{"match_id": 8000000002, "start_time": 1754395200, "radiant_win": true},
		{"match_id": 8000000001, "start_time": 1754391600, "radiant_win": false}
	]`))
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, int64(8000000002), batch.Records[0].ID)
	assert.Equal(t, time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC), batch.Records[0].StartTime)
	assert.JSONEq(t, `{"match_id": 8000000002, "start_time": 1754395200, "radiant_win": true}`, string(batch.Records[0].Raw))

	empty, err := a.DecodePage([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, empty.Records)

	for _, body := range []string{"", "  \n", "null"} {
		_, err = a.DecodePage([]byte(body))
		assert.ErrorIs(t, err, ErrMalformed, "body %q is a truncated response, not an empty page", body)
	}

	_, err = a.DecodePage([]byte(`[{"match_id": 1, "start_ti`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = a.DecodePage([]byte(`[{"start_time": 1}]`))
	assert.ErrorIs(t, err, ErrMalformed, "records without an ID cannot advance the cursor")

	next, err := a.NextCursor(0, records(100, 99, 98))
	require.NoError(t, err)
	assert.Equal(t, int64(98), next)

	_, err = a.NextCursor(0, nil)
	assert.Error(t, err)
}

func TestPandaScore(t *testing.T) {
	a := NewPandaScore("https://api.example.test", "tok")

	req, err := a.NewRequest(context.Background(), Call{Endpoint: "/dota2/matches", Cursor: 2, PageSize: 50})
	require.NoError(t, err)
	q := req.URL.Query()
	assert.Equal(t, "3", q.Get("page[number]"))
	assert.Equal(t, "50", q.Get("page[size]"))
	assert.Equal(t, "tok", q.Get("token"))

	batch, err := a.DecodePage([]byte(`[
		{"id": 1001, "begin_at": "2025-08-05T12:00:00Z"},
		{"id": 1002, "begin_at": null}
	]`))
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Equal(t, time.Date(2025, 8, 5, 12, 0, 0, 0, time.UTC), batch.Records[0].StartTime)
	assert.True(t, batch.Records[1].StartTime.IsZero())

	next, err := a.NextCursor(2, batch.Records)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)
	assert.True(t, a.Pagination().Direction.Advances(2, next))
}

func TestSteam(t *testing.T) {
	a := NewSteam("https://api.example.test", "k")

	req, err := a.NewRequest(context.Background(), Call{
		Endpoint: "/IDOTA2Match_570/GetMatchHistory/v1/",
		Cursor:   500,
		PageSize: 25,
	})
	require.NoError(t, err)
	q := req.URL.Query()
	assert.Equal(t, "500", q.Get("start_at_match_id"))
	assert.Equal(t, "25", q.Get("matches_requested"))
	assert.Equal(t, "k", q.Get("key"))

	batch, err := a.DecodePage([]byte(`{"result": {
		"status": 1, "num_results": 2, "total_results": 500, "results_remaining": 0,
		"matches": [{"match_id": 500, "start_time": 1754395200}, {"match_id": 499, "start_time": 1754391600}]
	}}`))
	require.NoError(t, err)
	assert.Len(t, batch.Records, 2)
	assert.True(t, batch.Exhausted)

	next, err := a.NextCursor(500, batch.Records)
	require.NoError(t, err)
	assert.Equal(t, int64(498), next, "start_at_match_id is inclusive")

	last, err := a.DecodePage([]byte(`{"result": {"status": 1, "results_remaining": 0}}`))
	require.NoError(t, err)
	assert.True(t, last.Exhausted)
	assert.Empty(t, last.Records)

	_, err = a.DecodePage([]byte(`{"result": {"status": 1, "results_remaining": 400}}`))
	assert.ErrorIs(t, err, ErrMalformed, "matches may only be omitted on the last page")

	more, err := a.DecodePage([]byte(`{"result": {"status": 1, "results_remaining": 400, "matches": [{"match_id": 1}]}}`))
	require.NoError(t, err)
	assert.False(t, more.Exhausted)

	_, err = a.DecodePage([]byte(`{"result": {"status": 15, "statusDetail": "Cannot get match history for a user that hasn't allowed it"}}`))
	assert.Equal(t, client.ErrorClassClient, client.ClassOf(err))

	_, err = a.DecodePage([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestStratz(t *testing.T) {
	a, err := NewStratz(Config{
		BaseURL:   "https://api.example.test/graphql",
		APIKey:    "jwt",
		Query:     "query($leagueId: Int!, $skip: Int, $take: Int) { league(id: $leagueId) { matches(request: {skip: $skip, take: $take}) { id startDateTime } } }",
		DataPath:  []string{"league", "matches"},
		Variables: map[string]any{"leagueId": 15728},
	})
	require.NoError(t, err)

	req, err := a.NewRequest(context.Background(), Call{Cursor: 200, PageSize: 100, Params: url.Values{"region": {"eu"}}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer jwt", req.Header.Get("Authorization"))

	var vars map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.URL.Query().Get("variables")), &vars))
	assert.Equal(t, float64(200), vars["skip"])
	assert.Equal(t, float64(100), vars["take"])
	assert.Equal(t, float64(15728), vars["leagueId"])
	assert.Equal(t, "eu", vars["region"])
	assert.NotEmpty(t, req.URL.Query().Get("query"))

	batch, err := a.DecodePage([]byte(`{"data": {"league": {"matches": [
		{"id": 7, "startDateTime": 1754395200},
		{"id": 8, "startDateTime": 1754391600}
	]}}}`))
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)

	next, err := a.NextCursor(200, batch.Records)
	require.NoError(t, err)
	assert.Equal(t, int64(202), next)

	_, err = a.DecodePage([]byte(`{"data": null, "errors": [{"message": "league not found"}]}`))
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, client.ErrorClassClient, apiErr.Class)
	assert.Contains(t, apiErr.Message, "league not found")

	_, err = a.DecodePage([]byte(`{"data": {"league": {}}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeReference(t *testing.T) {
	heroes, err := DecodeReference([]byte(`[{"id":1,"localized_name":"Anti-Mage"},{"id":2,"localized_name":"Axe"}]`))
	require.NoError(t, err)
	require.Len(t, heroes, 2)
	assert.Equal(t, int64(2), heroes[1].ID)

	items, err := DecodeReference([]byte(`{"blink":{"id":1,"dname":"Blink Dagger"},"tango":{"id":44,"dname":"Tango"}}`))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].ID)
	assert.Equal(t, int64(44), items[1].ID)

	_, err = DecodeReference([]byte(`"nope"`))
	assert.ErrorIs(t, err, ErrMalformed)
}
