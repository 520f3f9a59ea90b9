package provider

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Sternrassler/dota-collector/pkg/model"
	"github.com/Sternrassler/dota-collector/pkg/ratelimit"
)

// DefaultPandaScoreURL is the PandaScore REST API.
const DefaultPandaScoreURL = "https://api.pandascore.co"

// PandaScoreAdapter pages with page[number]/page[size]. The cursor is the
// last fully persisted page number.
type PandaScoreAdapter struct {
	baseURL string
	token   string
}

// NewPandaScore creates the PandaScore adapter.
func NewPandaScore(baseURL, token string) *PandaScoreAdapter {
	if baseURL == "" {
		baseURL = DefaultPandaScoreURL
	}
	return &PandaScoreAdapter{baseURL: baseURL, token: token}
}

func (a *PandaScoreAdapter) Name() string { return PandaScore }

func (a *PandaScoreAdapter) Pagination() Pagination {
	return Pagination{
		Kind:            model.CursorPage,
		Direction:       model.Ascending,
		MaxPageSize:     100,
		ShortPageIsLast: true,
	}
}

func (a *PandaScoreAdapter) RateLimitHeaders() ratelimit.Headers {
	return ratelimit.Headers{Remaining: "X-Rate-Limit-Remaining"}
}

func (a *PandaScoreAdapter) NewRequest(ctx context.Context, call Call) (*http.Request, error) {
	params := cloneParams(call.Params)
	params.Set("page[number]", strconv.FormatInt(call.Cursor+1, 10))
	if call.PageSize > 0 {
		params.Set("page[size]", strconv.Itoa(call.PageSize))
	}
	if a.token != "" {
		params.Set("token", a.token)
	}

	u, err := buildURL(a.baseURL, call.Endpoint, params)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

func (a *PandaScoreAdapter) DecodePage(body []byte) (model.Batch, error) {
	records, err := decodeRecords(body, recordShape{
		idField:    "id",
		timeField:  "begin_at",
		timeFormat: timeRFC3339,
	})
	if err != nil {
		return model.Batch{}, err
	}
	return model.Batch{Records: records}, nil
}

// NextCursor is the page just fetched.
func (a *PandaScoreAdapter) NextCursor(cursor int64, _ []model.Record) (int64, error) {
	return cursor + 1, nil
}
