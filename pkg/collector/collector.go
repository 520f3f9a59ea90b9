// Package collector implements the resumable paginated collection loop.
//
// A Collector fetches pages through a provider adapter, writes each page to a
// sink and only then saves the cursor following it. Stopping at any point
// therefore loses nothing: the next run resumes after the last persisted page.
package collector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/dota-collector/pkg/checkpoint"
	"github.com/Sternrassler/dota-collector/pkg/client"
	"github.com/Sternrassler/dota-collector/pkg/clock"
	"github.com/Sternrassler/dota-collector/pkg/model"
	"github.com/Sternrassler/dota-collector/pkg/provider"
	"github.com/Sternrassler/dota-collector/pkg/sink"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDecodeRetries is how often a malformed page is re-requested.
	DefaultDecodeRetries = 1

	// DefaultExpectedRecords sizes the per-run duplicate filter.
	DefaultExpectedRecords = 100_000
)

// Fetcher executes provider requests. *client.Client implements it.
type Fetcher interface {
	Do(req *http.Request) (*client.Response, error)
	DoCached(req *http.Request) (*client.Response, error)
}

// Config wires a collector for one target.
type Config struct {
	Target  string
	Adapter provider.Adapter
	Client  Fetcher
	Store   checkpoint.Store
	Sink    sink.Sink
	Clock   clock.Clock

	// DecodeRetries is the number of re-requests of a malformed page.
	// Zero selects DefaultDecodeRetries, negative disables retries.
	DecodeRetries int

	// ExpectedRecords sizes the duplicate filter. Zero selects DefaultExpectedRecords.
	ExpectedRecords uint

	Logger *zerolog.Logger
}

// Request describes one collection run.
type Request struct {
	Endpoint string
	Params   url.Values

	// PageSize is clamped to the adapter maximum. Zero requests the maximum.
	PageSize int

	// MaxRecords ends the run once reached. Zero means no limit.
	MaxRecords int

	// Since ends the run at the first record that started before it.
	// Records without a start time always pass.
	Since time.Time
}

// Collector runs paginated collections for one target.
type Collector struct {
	target        string
	adapter       provider.Adapter
	client        Fetcher
	store         checkpoint.Store
	sink          sink.Sink
	clock         clock.Clock
	decodeRetries int
	expected      uint
	logger        zerolog.Logger
}

// errDecodeSkipped ends a run without failing it.
var errDecodeSkipped = errors.New("page skipped after decode errors")

// New creates a collector.
func New(cfg Config) (*Collector, error) {
	if err := checkpoint.ValidateTarget(cfg.Target); err != nil {
		return nil, err
	}
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("cursor store is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	decodeRetries := cfg.DecodeRetries
	switch {
	case decodeRetries == 0:
		decodeRetries = DefaultDecodeRetries
	case decodeRetries < 0:
		decodeRetries = 0
	}
	expected := cfg.ExpectedRecords
	if expected == 0 {
		expected = DefaultExpectedRecords
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Collector{
		target:        cfg.Target,
		adapter:       cfg.Adapter,
		client:        cfg.Client,
		store:         cfg.Store,
		sink:          cfg.Sink,
		clock:         cfg.Clock,
		decodeRetries: decodeRetries,
		expected:      expected,
		logger: logger.With().
			Str("component", "collector").
			Str("target", cfg.Target).
			Str("provider", cfg.Adapter.Name()).
			Logger(),
	}, nil
}

// Target returns the target name.
func (c *Collector) Target() string {
	return c.target
}

// Cursor returns the persisted cursor, 0 when none is stored.
func (c *Collector) Cursor(ctx context.Context) (int64, error) {
	state, err := c.store.Load(ctx, c.target)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return state.LastID, nil
}

// Collect pages through req.Endpoint from the persisted cursor until the
// dataset is exhausted, MaxRecords is reached, Since is crossed, or a page
// stays malformed. On failure the returned Run is still populated and the
// error is a *RunError carrying the cursor to resume from.
func (c *Collector) Collect(ctx context.Context, req Request) (*Run, error) {
	pag := c.adapter.Pagination()
	pageSize := req.PageSize
	if pageSize <= 0 || (pag.MaxPageSize > 0 && pageSize > pag.MaxPageSize) {
		pageSize = pag.MaxPageSize
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive")
	}

	run := &Run{
		ID:        uuid.NewString(),
		Target:    c.target,
		Endpoint:  req.Endpoint,
		StartedAt: c.clock.Now(),
	}
	logger := c.logger.With().
		Str("run_id", run.ID).
		Str("endpoint", req.Endpoint).
		Logger()

	fail := func(cursor int64, err error) (*Run, error) {
		run.TerminalCursor = cursor
		run.Elapsed = c.clock.Now().Sub(run.StartedAt)
		runsTotal.WithLabelValues(c.target, "failed").Inc()

		runErr := &RunError{
			Target:   c.target,
			Endpoint: req.Endpoint,
			Cursor:   cursor,
			Params:   client.RedactParams(req.Params),
			Err:      err,
		}
		logger.Error().
			Err(err).
			Int64("cursor", cursor).
			Str("params", runErr.Params.Encode()).
			Str("error_class", string(client.ClassOf(err))).
			Int("records", run.Records).
			Msg("Collection run failed")
		return run, runErr
	}

	state, err := c.store.Load(ctx, c.target)
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return fail(0, fmt.Errorf("load cursor: %w", err))
	}
	var cursor, total int64
	if state != nil {
		cursor, total = state.LastID, state.Records
	}
	run.InitialCursor = cursor

	logger.Info().
		Int64("cursor", cursor).
		Int("page_size", pageSize).
		Int("max_records", req.MaxRecords).
		Msg("Starting collection run")

	seen := bloom.NewWithEstimates(c.expected, 0.001)
	var stop StopReason

	for stop == "" {
		if req.MaxRecords > 0 && run.Records >= req.MaxRecords {
			stop = StopMaxRecords
			break
		}

		size := pageSize
		if pag.Kind != model.CursorPage && req.MaxRecords > 0 {
			size = min(size, req.MaxRecords-run.Records)
		}

		call := provider.Call{
			Endpoint: req.Endpoint,
			Params:   req.Params,
			Cursor:   cursor,
			PageSize: size,
		}
		batch, err := c.fetch(ctx, call, run, logger)
		if errors.Is(err, errDecodeSkipped) {
			stop = StopDecodeSkipped
			break
		}
		if err != nil {
			return fail(cursor, err)
		}

		if len(batch.Records) == 0 {
			stop = StopExhausted
			break
		}

		persist := batch.Records
		if !req.Since.IsZero() {
			for i, r := range persist {
				if !r.StartTime.IsZero() && r.StartTime.Before(req.Since) {
					persist = persist[:i]
					stop = StopSinceReached
					break
				}
			}
		}
		if pag.Kind != model.CursorPage && req.MaxRecords > 0 {
			if remaining := req.MaxRecords - run.Records; len(persist) > remaining {
				persist = persist[:remaining]
			}
		}

		if len(persist) > 0 {
			next, err := c.persist(ctx, run, cursor, persist, total, pag.Direction, seen, logger)
			if err != nil {
				return fail(cursor, err)
			}
			total += int64(len(persist))
			cursor = next
		}

		if stop == "" && (batch.Exhausted || (pag.ShortPageIsLast && len(batch.Records) < size)) {
			stop = StopExhausted
		}
	}

	run.TerminalCursor = cursor
	run.StopReason = stop
	run.Elapsed = c.clock.Now().Sub(run.StartedAt)
	runsTotal.WithLabelValues(c.target, string(stop)).Inc()

	logger.Info().
		Str("stop_reason", string(stop)).
		Int("pages", run.Pages).
		Int("records", run.Records).
		Int64("cursor", cursor).
		Dur("elapsed", run.Elapsed).
		Msg("Collection run finished")

	return run, nil
}

// fetch requests one page, re-requesting it while the body is malformed.
func (c *Collector) fetch(ctx context.Context, call provider.Call, run *Run, logger zerolog.Logger) (model.Batch, error) {
	for attempt := 0; ; attempt++ {
		req, err := c.adapter.NewRequest(ctx, call)
		if err != nil {
			return model.Batch{}, fmt.Errorf("build request: %w", err)
		}

		run.Pages++
		logger.Debug().
			Int64("cursor", call.Cursor).
			Int("page_size", call.PageSize).
			Int("page", run.Pages).
			Msg("Fetching page")

		resp, err := c.client.Do(req)
		if err != nil {
			return model.Batch{}, err
		}

		batch, err := c.adapter.DecodePage(resp.Body)
		if err == nil {
			return batch, nil
		}
		if !errors.Is(err, provider.ErrMalformed) {
			return model.Batch{}, err
		}

		if attempt >= c.decodeRetries {
			decodeSkipsTotal.WithLabelValues(c.target).Inc()
			logger.Warn().
				Err(err).
				Int64("cursor", call.Cursor).
				Str("params", client.RedactParams(call.Params).Encode()).
				Str("error_class", string(client.ErrorClassDecode)).
				Msg("Page still malformed, treating as empty")
			return model.Batch{}, errDecodeSkipped
		}

		logger.Warn().
			Err(err).
			Int64("cursor", call.Cursor).
			Str("error_class", string(client.ErrorClassDecode)).
			Msg("Malformed page, requesting again")
	}
}

// persist writes the page, then saves the cursor following it.
func (c *Collector) persist(
	ctx context.Context,
	run *Run,
	cursor int64,
	records []model.Record,
	total int64,
	direction model.Direction,
	seen *bloom.BloomFilter,
	logger zerolog.Logger,
) (int64, error) {
	next, err := c.adapter.NextCursor(cursor, records)
	if err != nil {
		return 0, fmt.Errorf("next cursor: %w", err)
	}
	if !direction.Advances(cursor, next) {
		return 0, fmt.Errorf("%w: %d -> %d", ErrCursorStalled, cursor, next)
	}

	var key [8]byte
	for _, r := range records {
		binary.BigEndian.PutUint64(key[:], uint64(r.ID))
		if seen.TestAndAdd(key[:]) {
			run.Duplicates++
			duplicateRecordsTotal.WithLabelValues(c.target).Inc()
			logger.Warn().
				Int64("record_id", r.ID).
				Int64("cursor", cursor).
				Msg("Record ID seen twice in one run")
		}
	}

	page := model.Page{
		Target:     c.target,
		RunID:      run.ID,
		Endpoint:   run.Endpoint,
		Number:     run.Pages,
		Cursor:     cursor,
		NextCursor: next,
		FetchedAt:  c.clock.Now(),
		Records:    records,
	}
	if err := c.sink.Write(ctx, page); err != nil {
		return 0, fmt.Errorf("write page: %w", err)
	}

	if err := c.store.Save(ctx, checkpoint.State{
		Target:    c.target,
		LastID:    next,
		UpdatedAt: page.FetchedAt,
		Records:   total + int64(len(records)),
	}); err != nil {
		return 0, fmt.Errorf("save cursor: %w", err)
	}

	run.Records += len(records)
	pagesTotal.WithLabelValues(c.target).Inc()
	recordsTotal.WithLabelValues(c.target).Add(float64(len(records)))

	logger.Info().
		Int("page", page.Number).
		Int("records", len(records)).
		Int64("cursor", cursor).
		Int64("next_cursor", next).
		Msg("Page persisted")

	return next, nil
}

// Snapshot fetches a non-paginated reference endpoint, through the response
// cache when the client has one, and writes it as a single page. The cursor
// is not touched.
func (c *Collector) Snapshot(ctx context.Context, endpoint string, params url.Values) (int, error) {
	req, err := c.adapter.NewRequest(ctx, provider.Call{Endpoint: endpoint, Params: params})
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.DoCached(req)
	if err != nil {
		return 0, &RunError{Target: c.target, Endpoint: endpoint, Params: client.RedactParams(params), Err: err}
	}

	records, err := provider.DecodeReference(resp.Body)
	if err != nil {
		return 0, &RunError{Target: c.target, Endpoint: endpoint, Params: client.RedactParams(params), Err: err}
	}

	page := model.Page{
		Target:    c.target,
		RunID:     uuid.NewString(),
		Endpoint:  endpoint,
		Number:    1,
		FetchedAt: c.clock.Now(),
		Records:   records,
	}
	if err := c.sink.Write(ctx, page); err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}

	c.logger.Info().
		Str("endpoint", endpoint).
		Int("records", len(records)).
		Bool("from_cache", resp.FromCache).
		Msg("Snapshot persisted")
	return len(records), nil
}
