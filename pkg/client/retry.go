package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Sternrassler/dota-collector/pkg/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dota_api_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dota_api_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dota_api_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig is the backoff policy for transient failures.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the first wait after a server or network error.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// RateLimitBackoff is the first wait after a 429 without Retry-After.
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff"`

	// MaxBackoff caps computed backoff.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// MaxRetryAfter caps a provider Retry-After. Zero honours it as sent.
	MaxRetryAfter time.Duration `yaml:"max_retry_after"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// Jitter is the +/- fraction applied to computed backoff (0.2 = 20%).
	Jitter float64 `yaml:"jitter"`
}

// DefaultRetryConfig returns the default retry policy: 4 retries, 2s doubling
// to at most 60s, 10s first wait on rate limiting.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    2 * time.Second,
		RateLimitBackoff:  10 * time.Second,
		MaxBackoff:        60 * time.Second,
		MaxRetryAfter:     5 * time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// Validate checks the policy for nonsensical values.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", c.MaxAttempts)
	}
	if c.InitialBackoff < 0 || c.RateLimitBackoff < 0 || c.MaxBackoff < 0 || c.MaxRetryAfter < 0 {
		return errors.New("backoff durations must not be negative")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %v)", c.BackoffMultiplier)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1) (got %v)", c.Jitter)
	}
	return nil
}

// Backoff returns the wait before retry number retry (1-based) after a failure
// of class errorClass, without jitter.
func (c RetryConfig) Backoff(errorClass ErrorClass, retry int, retryAfter time.Duration) time.Duration {
	if errorClass == ErrorClassRateLimit && retryAfter > 0 {
		if c.MaxRetryAfter > 0 && retryAfter > c.MaxRetryAfter {
			return c.MaxRetryAfter
		}
		return retryAfter
	}

	base := c.InitialBackoff
	if errorClass == ErrorClassRateLimit && c.RateLimitBackoff > 0 {
		base = c.RateLimitBackoff
	}
	if retry < 1 {
		retry = 1
	}

	backoff := time.Duration(float64(base) * math.Pow(c.BackoffMultiplier, float64(retry-1)))
	if c.MaxBackoff > 0 && (backoff > c.MaxBackoff || backoff < 0) {
		backoff = c.MaxBackoff
	}
	return backoff
}

func (c RetryConfig) withJitter(d time.Duration, random func() float64) time.Duration {
	if c.Jitter == 0 || d <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 - c.Jitter + random()*2*c.Jitter))
}

// retrier executes a function under a RetryConfig.
type retrier struct {
	config RetryConfig
	clock  clock.Clock
	random func() float64
	logger zerolog.Logger
}

// do runs fn until it succeeds, fails with a non-retryable error, or exhausts
// MaxAttempts. The wait between attempts goes through the injected clock.
func (r *retrier) do(ctx context.Context, fn func() error) error {
	var lastErr error
	var lastClass ErrorClass

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Info().
					Str("error_class", string(lastClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		lastClass = ClassOf(err)

		if !shouldRetry(lastClass) {
			return err
		}

		if attempt >= r.config.MaxAttempts {
			break
		}

		var retryAfter time.Duration
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			retryAfter = apiErr.RetryAfter
		}

		wait := r.config.Backoff(lastClass, attempt, retryAfter)
		if retryAfter == 0 {
			wait = r.config.withJitter(wait, r.random)
		}

		retriesTotal.WithLabelValues(string(lastClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(lastClass)).Observe(wait.Seconds())

		r.logger.Warn().
			Err(err).
			Str("error_class", string(lastClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		if err := r.clock.Sleep(ctx, wait); err != nil {
			r.logger.Warn().
				Str("error_class", string(lastClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	}

	retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	r.logger.Error().
		Str("error_class", string(lastClass)).
		Int("max_attempts", r.config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, r.config.MaxAttempts, lastErr)
}

func defaultRandom() float64 {
	return rand.Float64()
}
