// Package client provides the HTTP client used by provider adapters, with
// rate limiting, classified errors, backoff retries and reference caching.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/dota-collector/pkg/cache"
	"github.com/Sternrassler/dota-collector/pkg/clock"
	"github.com/Sternrassler/dota-collector/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dota_api_requests_total",
		Help: "Total API requests by provider and status",
	}, []string{"provider", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dota_api_request_duration_seconds",
		Help:    "API request duration in seconds by provider",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dota_api_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// maxErrorBody bounds how much of an error response ends up in APIError.Message.
const maxErrorBody = 256

// Config holds the client configuration.
type Config struct {
	// Provider labels metrics and logs (e.g. "opendota").
	Provider string

	// UserAgent is sent on every request.
	UserAgent string

	// Timeout per HTTP attempt. A timeout counts as a network error.
	Timeout time.Duration

	Retry RetryConfig

	// RateLimiter paces requests. Optional.
	RateLimiter *ratelimit.Tracker

	// Cache serves reference endpoints through DoCached. Optional.
	Cache *cache.Manager

	// Clock drives backoff sleeps. Defaults to the wall clock.
	Clock clock.Clock
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(provider, userAgent string) Config {
	return Config{
		Provider:  provider,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
		Clock:     clock.Real(),
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// FromCache is set when the body came from the reference cache.
	FromCache bool
}

// Client executes provider requests.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Tracker
	cache      *cache.Manager
	clock      clock.Clock
	retry      *retrier
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry config: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	logger := log.With().
		Str("component", "api-client").
		Str("provider", cfg.Provider).
		Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: cfg.RateLimiter,
		cache:   cfg.Cache,
		clock:   cfg.Clock,
		retry: &retrier{
			config: cfg.Retry,
			clock:  cfg.Clock,
			random: defaultRandom,
			logger: logger,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// Provider returns the provider name the client was configured for.
func (c *Client) Provider() string {
	return c.config.Provider
}

// Do performs req, retrying rate limits, server errors and network errors per
// the retry policy. Any non-2xx/304 outcome is returned as an *APIError,
// wrapped in ErrRetryExhausted when retries ran out.
func (c *Client) Do(req *http.Request) (*Response, error) {
	ctx := req.Context()
	redacted := RedactURL(req.URL)

	req.Header.Set("User-Agent", c.config.UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	var resp *Response
	err := c.retry.do(ctx, func() error {
		var err error
		resp, err = c.attempt(ctx, req, redacted)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt executes a single HTTP round trip.
func (c *Client) attempt(ctx context.Context, req *http.Request, redacted string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	c.logger.Debug().
		Str("url", redacted).
		Msg("Executing API request")

	start := time.Now()
	httpResp, err := c.httpClient.Do(req.Clone(ctx))
	requestDuration.WithLabelValues(c.config.Provider).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(c.config.Provider, "network_error").Inc()
		return nil, &APIError{
			Class:   ErrorClassNetwork,
			Message: "request failed",
			URL:     redacted,
			Err:     err,
		}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read response body",
			URL:        redacted,
			Err:        err,
		}
	}

	if c.limiter != nil {
		if err := c.limiter.UpdateFromHeaders(ctx, httpResp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	requestsTotal.WithLabelValues(c.config.Provider, strconv.Itoa(httpResp.StatusCode)).Inc()

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}

	switch {
	case httpResp.StatusCode == http.StatusNotModified:
		return resp, nil
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		return resp, nil
	}

	class := classifyStatus(httpResp.StatusCode)
	errorsTotal.WithLabelValues(string(class)).Inc()

	apiErr := &APIError{
		StatusCode: httpResp.StatusCode,
		Class:      class,
		Message:    errorMessage(httpResp.StatusCode, body),
		URL:        redacted,
		RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After"), c.clock.Now()),
	}

	c.logger.Warn().
		Str("url", redacted).
		Int("status", httpResp.StatusCode).
		Str("error_class", string(class)).
		Dur("retry_after", apiErr.RetryAfter).
		Msg("API request error")

	return nil, apiErr
}

// DoCached serves req from the reference cache when fresh, revalidates stale
// entries with a conditional request, and stores successful responses.
// Without a configured cache it is equivalent to Do.
func (c *Client) DoCached(req *http.Request) (*Response, error) {
	if c.cache == nil {
		return c.Do(req)
	}

	ctx := req.Context()
	key := cache.CacheKey{
		Provider:    c.config.Provider,
		Endpoint:    req.URL.Path,
		QueryParams: req.URL.Query(),
	}

	entry, err := c.cache.Get(ctx, key)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
	}

	now := c.clock.Now()
	if entry != nil && !entry.IsExpired(now) {
		cache.CacheHits.Inc()
		c.logger.Debug().Str("key", key.String()).Dur("ttl", entry.TTL(now)).Msg("Serving fresh cache entry")
		return &Response{StatusCode: entry.StatusCode, Body: entry.Data, FromCache: true}, nil
	}

	if entry != nil && entry.CanRevalidate() {
		cache.AddConditionalHeaders(req, entry)
		c.logger.Debug().Str("key", key.String()).Str("etag", entry.ETag).Msg("Making conditional request")
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}

	now = c.clock.Now()
	if resp.StatusCode == http.StatusNotModified {
		if entry == nil {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Class:      ErrorClassClient,
				Message:    "304 Not Modified without a cached entry",
				URL:        RedactURL(req.URL),
			}
		}
		cache.NotModified.Inc()
		cache.Refresh(entry, resp.Header, now)
		if err := c.cache.Set(ctx, key, entry, now); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
		}
		return &Response{StatusCode: entry.StatusCode, Header: resp.Header, Body: entry.Data, FromCache: true}, nil
	}

	if resp.StatusCode == http.StatusOK {
		if err := c.cache.Set(ctx, key, cache.NewEntry(resp.StatusCode, resp.Header, resp.Body, now), now); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return resp, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func errorMessage(status int, body []byte) string {
	msg := http.StatusText(status)
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody] + "..."
	}
	if snippet != "" {
		msg += ": " + snippet
	}
	return msg
}

// credentialParams are redacted from URLs before logging.
var credentialParams = []string{"api_key", "key", "token", "access_token"}

// RedactURL renders u with credential query parameters masked.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clone := *u
	clone.RawQuery = RedactParams(u.Query()).Encode()
	return clone.String()
}

// RedactParams returns a copy of params with credential values masked.
func RedactParams(params url.Values) url.Values {
	out := make(url.Values, len(params))
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	for _, p := range credentialParams {
		if _, ok := out[p]; ok {
			out.Set(p, "REDACTED")
		}
	}
	return out
}
