package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/dota-collector/pkg/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dota_ratelimit_remaining",
		Help: "Requests remaining in the current provider rate limit window",
	}, []string{"provider"})

	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dota_ratelimit_waits_total",
		Help: "Total number of times a request waited for the rate limit budget",
	}, []string{"provider"})

	rateLimitThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dota_ratelimit_throttles_total",
		Help: "Total number of requests slowed down because the budget was low",
	}, []string{"provider"})
)

// Headers names the provider headers carrying the budget.
type Headers struct {
	// Remaining is the header with requests left in the window.
	Remaining string

	// Reset is the header with seconds until the window resets. Optional: the
	// window is assumed to end at the next minute boundary when absent.
	Reset string
}

// Config holds tracker configuration.
type Config struct {
	Provider          string
	RequestsPerMinute int
	Headers           Headers
	Store             Store
	Clock             clock.Clock
}

// Tracker gates requests for one provider.
type Tracker struct {
	provider string
	interval time.Duration
	headers  Headers
	store    Store
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewTracker creates a new rate limit tracker. Zero RequestsPerMinute disables pacing.
func NewTracker(cfg Config, logger zerolog.Logger) *Tracker {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	var interval time.Duration
	if cfg.RequestsPerMinute > 0 {
		interval = time.Minute / time.Duration(cfg.RequestsPerMinute)
	}

	return &Tracker{
		provider: cfg.Provider,
		interval: interval,
		headers:  cfg.Headers,
		store:    cfg.Store,
		clock:    cfg.Clock,
		logger:   logger.With().Str("provider", cfg.Provider).Logger(),
	}
}

// Interval returns the minimum spacing between requests.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// GetState retrieves the current state, or a default one if none is stored.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	state, err := t.store.Load(ctx, t.provider)
	if err != nil {
		return nil, fmt.Errorf("load rate limit state: %w", err)
	}
	if state == nil {
		t.logger.Debug().Msg("No rate limit state stored, assuming unknown budget")
		return DefaultState(), nil
	}
	return state, nil
}

// Wait blocks until the next request fits the budget, then claims the slot.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return err
	}

	now := t.clock.Now()
	var wait time.Duration

	switch {
	case state.Exhausted(now):
		wait = state.TimeUntilReset(now)
		t.logger.Warn().
			Dur("wait_duration", wait).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit budget exhausted - waiting for window reset")
	default:
		interval := t.interval
		if state.NeedsThrottling(now) {
			interval *= 2
			rateLimitThrottlesTotal.WithLabelValues(t.provider).Inc()
			t.logger.Warn().
				Int("remaining", state.Remaining).
				Msg("Rate limit budget low - throttling requests")
		}
		if !state.LastRequest.IsZero() && interval > 0 {
			if next := state.LastRequest.Add(interval); next.After(now) {
				wait = next.Sub(now)
			}
		}
	}

	if wait > 0 {
		rateLimitWaitsTotal.WithLabelValues(t.provider).Inc()
		if err := t.clock.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("wait for rate limit: %w", err)
		}
	}

	state.LastRequest = t.clock.Now()
	if state.Remaining > 0 {
		state.Remaining--
	}
	if err := t.store.Save(ctx, t.provider, state); err != nil {
		return fmt.Errorf("save rate limit state: %w", err)
	}
	return nil
}

// UpdateFromHeaders parses the provider budget headers and stores the new state.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	if t.headers.Remaining == "" {
		return nil
	}
	remainStr := headers.Get(t.headers.Remaining)
	if remainStr == "" {
		// Header not present on every endpoint
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", t.headers.Remaining, err)
	}

	now := t.clock.Now()
	resetAt := now.Truncate(time.Minute).Add(time.Minute)
	if t.headers.Reset != "" {
		if resetStr := headers.Get(t.headers.Reset); resetStr != "" {
			resetSeconds, err := strconv.Atoi(resetStr)
			if err != nil {
				return fmt.Errorf("parse %s header: %w", t.headers.Reset, err)
			}
			resetAt = now.Add(time.Duration(resetSeconds) * time.Second)
		}
	}

	state, err := t.GetState(ctx)
	if err != nil {
		return err
	}
	state.Remaining = remain
	state.ResetAt = resetAt
	state.LastUpdate = now

	if err := t.store.Save(ctx, t.provider, state); err != nil {
		return fmt.Errorf("save rate limit state: %w", err)
	}

	rateLimitRemaining.WithLabelValues(t.provider).Set(float64(remain))

	t.logger.Debug().
		Int("remaining", remain).
		Time("reset_at", resetAt).
		Msg("Rate limit state updated")
	return nil
}
