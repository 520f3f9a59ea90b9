package provider

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Sternrassler/dota-collector/pkg/model"
	"github.com/Sternrassler/dota-collector/pkg/ratelimit"
)

// DefaultOpenDotaURL is the public OpenDota API.
const DefaultOpenDotaURL = "https://api.opendota.com/api"

// OpenDotaAdapter pages newest-first feeds such as /proMatches and
// /publicMatches with the exclusive less_than_match_id keyset.
type OpenDotaAdapter struct {
	baseURL string
	apiKey  string
}

// NewOpenDota creates the OpenDota adapter. An empty baseURL selects the public API.
func NewOpenDota(baseURL, apiKey string) *OpenDotaAdapter {
	if baseURL == "" {
		baseURL = DefaultOpenDotaURL
	}
	return &OpenDotaAdapter{baseURL: baseURL, apiKey: apiKey}
}

func (a *OpenDotaAdapter) Name() string { return OpenDota }

func (a *OpenDotaAdapter) Pagination() Pagination {
	return Pagination{
		Kind:            model.CursorKeyset,
		Direction:       model.Descending,
		MaxPageSize:     100,
		ShortPageIsLast: true,
	}
}

func (a *OpenDotaAdapter) RateLimitHeaders() ratelimit.Headers {
	return ratelimit.Headers{Remaining: "X-Rate-Limit-Remaining-Minute"}
}

func (a *OpenDotaAdapter) NewRequest(ctx context.Context, call Call) (*http.Request, error) {
	params := cloneParams(call.Params)
	if call.Cursor != 0 {
		params.Set("less_than_match_id", strconv.FormatInt(call.Cursor, 10))
	}
	if call.PageSize > 0 {
		params.Set("limit", strconv.Itoa(call.PageSize))
	}
	if a.apiKey != "" {
		params.Set("api_key", a.apiKey)
	}

	u, err := buildURL(a.baseURL, call.Endpoint, params)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

func (a *OpenDotaAdapter) DecodePage(body []byte) (model.Batch, error) {
	records, err := decodeRecords(body, recordShape{
		idField:    "match_id",
		timeField:  "start_time",
		timeFormat: timeUnixSeconds,
	})
	if err != nil {
		return model.Batch{}, err
	}
	return model.Batch{Records: records}, nil
}

// NextCursor is the smallest persisted match ID: the next request asks for
// matches strictly below it.
func (a *OpenDotaAdapter) NextCursor(_ int64, persisted []model.Record) (int64, error) {
	last, err := lastRecord(persisted)
	if err != nil {
		return 0, err
	}
	return last.ID, nil
}
