// Package provider adapts individual Dota 2 APIs to the paginated collector.
//
// An Adapter knows one API's URL layout, authentication, page shape and
// cursor rule. The collector drives every adapter through the same loop.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/dota-collector/pkg/model"
	"github.com/Sternrassler/dota-collector/pkg/ratelimit"
)

// ErrMalformed marks a 200 response whose body does not have the expected shape.
var ErrMalformed = errors.New("malformed response")

// Call describes one page request.
type Call struct {
	// Endpoint is the path below the provider base URL (e.g. "/proMatches").
	Endpoint string

	// Params are extra query parameters. Cursor and size parameters set by
	// the adapter take precedence.
	Params url.Values

	// Cursor is the persisted position, 0 for the start of the dataset.
	Cursor int64

	// PageSize is the number of records requested.
	PageSize int
}

// Pagination describes how an adapter pages.
type Pagination struct {
	Kind      model.CursorKind
	Direction model.Direction

	// MaxPageSize is the largest page the API serves.
	MaxPageSize int

	// ShortPageIsLast is set when a page smaller than requested means the
	// dataset is exhausted.
	ShortPageIsLast bool
}

// Adapter is a per-API pagination strategy.
type Adapter interface {
	Name() string
	Pagination() Pagination

	// RateLimitHeaders names the budget headers the API sends.
	RateLimitHeaders() ratelimit.Headers

	// NewRequest builds the GET for call, credentials included.
	NewRequest(ctx context.Context, call Call) (*http.Request, error)

	// DecodePage parses a page body. Shape errors wrap ErrMalformed.
	DecodePage(body []byte) (model.Batch, error)

	// NextCursor derives the cursor following the persisted records of a
	// page fetched at cursor.
	NextCursor(cursor int64, persisted []model.Record) (int64, error)
}

// Config selects and configures an adapter.
type Config struct {
	Name    string
	BaseURL string

	// APIKey is the resolved credential. Empty means anonymous access.
	APIKey string

	// Query is the STRATZ GraphQL document.
	Query string

	// DataPath locates the record list inside the STRATZ data object.
	DataPath []string

	// Variables are constant STRATZ GraphQL variables.
	Variables map[string]any
}

// Names of the supported providers.
const (
	OpenDota   = "opendota"
	PandaScore = "pandascore"
	Steam      = "steam"
	Stratz     = "stratz"
)

// New returns the adapter named by cfg.Name.
func New(cfg Config) (Adapter, error) {
	switch strings.ToLower(cfg.Name) {
	case OpenDota:
		return NewOpenDota(cfg.BaseURL, cfg.APIKey), nil
	case PandaScore:
		return NewPandaScore(cfg.BaseURL, cfg.APIKey), nil
	case Steam:
		return NewSteam(cfg.BaseURL, cfg.APIKey), nil
	case Stratz:
		return NewStratz(cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// buildURL joins base and endpoint and encodes params.
func buildURL(base, endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func cloneParams(params url.Values) url.Values {
	out := make(url.Values, len(params))
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func lastRecord(persisted []model.Record) (model.Record, error) {
	if len(persisted) == 0 {
		return model.Record{}, errors.New("no persisted records to derive a cursor from")
	}
	return persisted[len(persisted)-1], nil
}
