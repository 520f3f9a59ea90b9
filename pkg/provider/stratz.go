package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/dota-collector/pkg/client"
	"github.com/Sternrassler/dota-collector/pkg/model"
	"github.com/Sternrassler/dota-collector/pkg/ratelimit"
)

// DefaultStratzURL is the STRATZ GraphQL endpoint.
const DefaultStratzURL = "https://api.stratz.com/graphql"

// StratzAdapter sends a GraphQL query over GET with skip/take variables.
// The cursor is the number of records already consumed.
type StratzAdapter struct {
	baseURL   string
	token     string
	query     string
	dataPath  []string
	variables map[string]any
}

// NewStratz creates the STRATZ adapter. cfg.Query and cfg.DataPath are required.
func NewStratz(cfg Config) (*StratzAdapter, error) {
	if strings.TrimSpace(cfg.Query) == "" {
		return nil, errors.New("stratz: query is required")
	}
	if len(cfg.DataPath) == 0 {
		return nil, errors.New("stratz: data path is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultStratzURL
	}
	return &StratzAdapter{
		baseURL:   baseURL,
		token:     cfg.APIKey,
		query:     cfg.Query,
		dataPath:  cfg.DataPath,
		variables: cfg.Variables,
	}, nil
}

func (a *StratzAdapter) Name() string { return Stratz }

func (a *StratzAdapter) Pagination() Pagination {
	return Pagination{
		Kind:            model.CursorOffset,
		Direction:       model.Ascending,
		MaxPageSize:     100,
		ShortPageIsLast: true,
	}
}

func (a *StratzAdapter) RateLimitHeaders() ratelimit.Headers {
	return ratelimit.Headers{Remaining: "X-RateLimit-Remaining-Minute"}
}

// NewRequest merges constant variables, call params and skip/take into the
// variables object. Call params that parse as integers are sent as numbers.
func (a *StratzAdapter) NewRequest(ctx context.Context, call Call) (*http.Request, error) {
	vars := make(map[string]any, len(a.variables)+len(call.Params)+2)
	for k, v := range a.variables {
		vars[k] = v
	}
	for k := range call.Params {
		v := call.Params.Get(k)
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			vars[k] = n
		} else {
			vars[k] = v
		}
	}
	vars["skip"] = call.Cursor
	if call.PageSize > 0 {
		vars["take"] = call.PageSize
	}

	encoded, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}

	params := url.Values{}
	params.Set("query", a.query)
	params.Set("variables", string(encoded))

	u, err := buildURL(a.baseURL, call.Endpoint, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return req, nil
}

type graphqlResult struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// DecodePage walks the data path to the record list. GraphQL errors without
// data are reported as client errors.
func (a *StratzAdapter) DecodePage(body []byte) (model.Batch, error) {
	var result graphqlResult
	if err := json.Unmarshal(body, &result); err != nil {
		return model.Batch{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	node := result.Data
	for _, key := range a.dataPath {
		if len(node) == 0 || string(node) == "null" {
			break
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(node, &obj); err != nil {
			return model.Batch{}, fmt.Errorf("%w: data.%s: %v", ErrMalformed, key, err)
		}
		node = obj[key]
	}

	if len(node) == 0 || string(node) == "null" {
		if len(result.Errors) > 0 {
			msgs := make([]string, 0, len(result.Errors))
			for _, e := range result.Errors {
				msgs = append(msgs, e.Message)
			}
			return model.Batch{}, &client.APIError{
				StatusCode: http.StatusOK,
				Class:      client.ErrorClassClient,
				Message:    "graphql: " + strings.Join(msgs, "; "),
			}
		}
		return model.Batch{}, fmt.Errorf("%w: no data at %s", ErrMalformed, strings.Join(a.dataPath, "."))
	}

	records, err := decodeRecords(node, recordShape{
		idField:    "id",
		timeField:  "startDateTime",
		timeFormat: timeUnixSeconds,
	})
	if err != nil {
		return model.Batch{}, err
	}
	return model.Batch{Records: records}, nil
}

// NextCursor adds the persisted records to the offset.
func (a *StratzAdapter) NextCursor(cursor int64, persisted []model.Record) (int64, error) {
	return cursor + int64(len(persisted)), nil
}
