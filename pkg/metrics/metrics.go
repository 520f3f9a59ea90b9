// Package metrics exposes the collector's Prometheus metrics.
//
// Metrics are declared with promauto next to the code that records them:
//
// Request metrics (pkg/client):
//   - dota_api_requests_total{provider,status}
//   - dota_api_request_duration_seconds{provider}
//   - dota_api_errors_total{class}
//   - dota_api_retries_total{error_class}
//   - dota_api_retry_backoff_seconds{error_class}
//   - dota_api_retry_exhausted_total{error_class}
//
// Rate limit metrics (pkg/ratelimit):
//   - dota_ratelimit_remaining{provider}
//   - dota_ratelimit_waits_total{provider}
//   - dota_ratelimit_throttles_total{provider}
//
// Cache metrics (pkg/cache):
//   - dota_cache_hits_total, dota_cache_misses_total
//   - dota_cache_not_modified_total, dota_cache_errors_total{operation}
//
// Collector metrics (pkg/collector):
//   - dota_collector_pages_total{target}, dota_collector_records_total{target}
//   - dota_collector_runs_total{target,outcome}
//   - dota_collector_decode_skips_total{target}
//   - dota_collector_duplicate_records_total{target}
//
// Example queries:
//
//	# Records per minute by target
//	sum by (target) (rate(dota_collector_records_total[5m])) * 60
//
//	# Share of requests that were rate limited
//	sum(rate(dota_api_errors_total{class="rate_limit"}[5m])) / sum(rate(dota_api_requests_total[5m]))
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}()

	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
