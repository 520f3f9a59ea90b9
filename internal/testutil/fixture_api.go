// Package testutil provides a fixture match API and a fake clock for
// collector tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Paths served by FixtureAPI.
const (
	MatchesPath = "/matches"
	TeamsPath   = "/teams"
	HeroesPath  = "/heroes"
)

// FixtureBaseTime is the start_time of the match with ID 1. Each higher ID
// starts one hour later.
var FixtureBaseTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// MockResponse is a scripted response returned instead of fixture data.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// FixtureAPI is an httptest server exposing a newest-first match feed
// (less_than_match_id + limit), a page-numbered team feed
// (page[number] + page[size]) and a static heroes list.
type FixtureAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	matches  int
	teams    int
	script   []MockResponse
	requests []url.Values
	headers  []http.Header
}

// NewFixtureAPI starts a server holding matchCount matches (IDs 1..matchCount)
// and teamCount teams.
func NewFixtureAPI(matchCount, teamCount int) *FixtureAPI {
	f := &FixtureAPI{matches: matchCount, teams: teamCount}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// URL returns the server base URL.
func (f *FixtureAPI) URL() string {
	return f.server.URL
}

// Close shuts the server down.
func (f *FixtureAPI) Close() {
	f.server.Close()
}

// Enqueue scripts responses returned, in order, before fixture data.
func (f *FixtureAPI) Enqueue(responses ...MockResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, responses...)
}

// RequestCount returns the number of requests served.
func (f *FixtureAPI) RequestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns the query of every request served, in order.
func (f *FixtureAPI) Requests() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]url.Values, len(f.requests))
	copy(out, f.requests)
	return out
}

// LastHeader returns the headers of the most recent request.
func (f *FixtureAPI) LastHeader() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.headers) == 0 {
		return nil
	}
	return f.headers[len(f.headers)-1]
}

func (f *FixtureAPI) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.Query())
	f.headers = append(f.headers, r.Header.Clone())
	var scripted *MockResponse
	if len(f.script) > 0 {
		scripted = &f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()

	if scripted != nil {
		for k, v := range scripted.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(scripted.StatusCode)
		w.Write([]byte(scripted.Body))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	switch r.URL.Path {
	case MatchesPath:
		f.serveMatches(w, r.URL.Query())
	case TeamsPath:
		f.serveTeams(w, r.URL.Query())
	case HeroesPath:
		w.Header().Set("ETag", `"heroes-v1"`)
		if r.Header.Get("If-None-Match") == `"heroes-v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte(`[{"id":1,"localized_name":"Anti-Mage"},{"id":2,"localized_name":"Axe"}]`))
	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}
}

// Match is the fixture match shape.
type Match struct {
	MatchID    int64 `json:"match_id"`
	StartTime  int64 `json:"start_time"`
	RadiantWin bool  `json:"radiant_win"`
}

// MatchStartTime returns the fixture start time of match id.
func MatchStartTime(id int64) time.Time {
	return FixtureBaseTime.Add(time.Duration(id-1) * time.Hour)
}

func (f *FixtureAPI) serveMatches(w http.ResponseWriter, q url.Values) {
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	next := int64(f.matches)
	if v := q.Get("less_than_match_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid less_than_match_id"}`, http.StatusBadRequest)
			return
		}
		next = n - 1
	}

	out := make([]Match, 0, limit)
	for id := next; id >= 1 && len(out) < limit; id-- {
		out = append(out, Match{
			MatchID:    id,
			StartTime:  MatchStartTime(id).Unix(),
			RadiantWin: id%2 == 0,
		})
	}
	json.NewEncoder(w).Encode(out)
}

// Team is the fixture team shape.
type Team struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (f *FixtureAPI) serveTeams(w http.ResponseWriter, q url.Values) {
	page, _ := strconv.Atoi(q.Get("page[number]"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("page[size]"))
	if perPage < 1 {
		perPage = 50
	}

	out := make([]Team, 0, perPage)
	for i := (page-1)*perPage + 1; i <= f.teams && len(out) < perPage; i++ {
		out = append(out, Team{ID: int64(i), Name: fmt.Sprintf("team-%d", i)})
	}
	json.NewEncoder(w).Encode(out)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	headers := map[string]string{"Content-Type": "application/json; charset=utf-8"}
	if retryAfter != "" {
		headers["Retry-After"] = retryAfter
	}
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":"rate limit exceeded"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewBadRequestResponse creates a 400 Bad Request response.
func NewBadRequestResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"error":"malformed query"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewMalformedResponse creates a 200 response whose body is not valid JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `[{"match_id": 250, "start_ti`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
