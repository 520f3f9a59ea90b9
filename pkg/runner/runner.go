// Package runner collects independent targets in parallel.
//
// Each job owns its collector, client and rate budget, so workers share
// nothing but the job queue. A failing target never cancels the others.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/dota-collector/pkg/collector"
	"github.com/rs/zerolog/log"
)

// Config holds runner configuration.
type Config struct {
	// MaxConcurrency is the maximum number of targets collected at once.
	MaxConcurrency int

	// Timeout bounds a single target run. Zero means no limit.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 4}
}

// Collector is the part of *collector.Collector a job needs.
type Collector interface {
	Collect(ctx context.Context, req collector.Request) (*collector.Run, error)
}

// Job is one target to collect.
type Job struct {
	Target    string
	Collector Collector
	Request   collector.Request
}

// Result is the outcome of a job.
type Result struct {
	Target string
	Run    *collector.Run
	Err    error
}

// Runner executes jobs with a worker pool.
type Runner struct {
	config Config
}

// New creates a runner.
func New(config Config) *Runner {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Runner{config: config}
}

type indexedJob struct {
	index int
	job   Job
}

// RunAll collects every job and returns the results in job order.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) []Result {
	start := time.Now()
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	workers := min(r.config.MaxConcurrency, len(jobs))
	log.Info().
		Int("targets", len(jobs)).
		Int("workers", workers).
		Msg("Starting parallel collection")

	queue := make(chan indexedJob, len(jobs))
	for i, job := range jobs {
		queue <- indexedJob{index: i, job: job}
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go r.worker(ctx, queue, results, &wg, i)
	}
	wg.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	log.Info().
		Int("targets", len(jobs)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Parallel collection complete")

	return results
}

// worker processes jobs from the queue. Each job writes only its own slot of
// results.
func (r *Runner) worker(ctx context.Context, queue <-chan indexedJob, results []Result, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for item := range queue {
		res := Result{Target: item.job.Target}

		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("not started: %w", err)
			results[item.index] = res
			continue
		}

		jobCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.config.Timeout > 0 {
			jobCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		}
		res.Run, res.Err = item.job.Collector.Collect(jobCtx, item.job.Request)
		cancel()

		if res.Err != nil {
			log.Warn().
				Err(res.Err).
				Int("worker_id", workerID).
				Str("target", item.job.Target).
				Msg("Target collection failed")
		}
		results[item.index] = res
		processed++
	}

	log.Debug().
		Int("worker_id", workerID).
		Int("targets_processed", processed).
		Msg("Worker completed")
}

// Err joins the errors of all failed results, nil when every job succeeded.
func Err(results []Result) error {
	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Target, res.Err))
		}
	}
	return errors.Join(errs...)
}
