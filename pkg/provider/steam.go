package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Sternrassler/dota-collector/pkg/client"
	"github.com/Sternrassler/dota-collector/pkg/model"
	"github.com/Sternrassler/dota-collector/pkg/ratelimit"
)

// DefaultSteamURL is the Steam Web API.
const DefaultSteamURL = "https://api.steampowered.com"

// SteamAdapter pages IDOTA2Match_570/GetMatchHistory. start_at_match_id is
// inclusive, so the next page starts one below the last persisted match.
type SteamAdapter struct {
	baseURL string
	key     string
}

// NewSteam creates the Steam Web API adapter.
func NewSteam(baseURL, key string) *SteamAdapter {
	if baseURL == "" {
		baseURL = DefaultSteamURL
	}
	return &SteamAdapter{baseURL: baseURL, key: key}
}

func (a *SteamAdapter) Name() string { return Steam }

func (a *SteamAdapter) Pagination() Pagination {
	return Pagination{
		Kind:        model.CursorKeyset,
		Direction:   model.Descending,
		MaxPageSize: 100,
	}
}

func (a *SteamAdapter) RateLimitHeaders() ratelimit.Headers {
	return ratelimit.Headers{}
}

func (a *SteamAdapter) NewRequest(ctx context.Context, call Call) (*http.Request, error) {
	params := cloneParams(call.Params)
	if call.Cursor != 0 {
		params.Set("start_at_match_id", strconv.FormatInt(call.Cursor, 10))
	}
	if call.PageSize > 0 {
		params.Set("matches_requested", strconv.Itoa(call.PageSize))
	}
	if a.key != "" {
		params.Set("key", a.key)
	}

	u, err := buildURL(a.baseURL, call.Endpoint, params)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

type steamHistory struct {
	Result *struct {
		Status           int             `json:"status"`
		StatusDetail     string          `json:"statusDetail"`
		ResultsRemaining *int            `json:"results_remaining"`
		Matches          json.RawMessage `json:"matches"`
	} `json:"result"`
}

func (a *SteamAdapter) DecodePage(body []byte) (model.Batch, error) {
	var resp steamHistory
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Batch{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if resp.Result == nil {
		return model.Batch{}, fmt.Errorf("%w: missing result object", ErrMalformed)
	}
	if resp.Result.Status != 1 {
		return model.Batch{}, &client.APIError{
			StatusCode: http.StatusOK,
			Class:      client.ErrorClassClient,
			Message:    fmt.Sprintf("steam status %d: %s", resp.Result.Status, resp.Result.StatusDetail),
		}
	}

	exhausted := resp.Result.ResultsRemaining != nil && *resp.Result.ResultsRemaining == 0
	if exhausted && (len(resp.Result.Matches) == 0 || string(resp.Result.Matches) == "null") {
		// The last page may omit the matches array entirely.
		return model.Batch{Exhausted: true}, nil
	}

	records, err := decodeRecords(resp.Result.Matches, recordShape{
		idField:    "match_id",
		timeField:  "start_time",
		timeFormat: timeUnixSeconds,
	})
	if err != nil {
		return model.Batch{}, err
	}

	return model.Batch{
		Records:   records,
		Exhausted: exhausted,
	}, nil
}

// NextCursor is one below the smallest persisted match ID.
func (a *SteamAdapter) NextCursor(_ int64, persisted []model.Record) (int64, error) {
	last, err := lastRecord(persisted)
	if err != nil {
		return 0, err
	}
	return last.ID - 1, nil
}
