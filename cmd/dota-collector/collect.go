package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/dota-collector/internal/config"
	"github.com/Sternrassler/dota-collector/pkg/collector"
	"github.com/Sternrassler/dota-collector/pkg/runner"
	"github.com/spf13/cobra"
)

func newCollectCmd(opts *rootOptions) *cobra.Command {
	var maxRecords, pageSize int
	var since string

	cmd := &cobra.Command{
		Use:   "collect <target>",
		Short: "Collects one target from its persisted cursor.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() { err = opts.finish(err) }()

			target, err := opts.app.cfg.Target(args[0])
			if err != nil {
				return err
			}
			if target.Snapshot {
				return runSnapshot(cmd, opts.app, target)
			}

			flags := cmd.Flags()
			if flags.Changed("max-records") {
				target.MaxRecords = maxRecords
			}
			if flags.Changed("page-size") {
				target.PageSize = pageSize
			}
			if flags.Changed("since") {
				target.Since = since
			}

			col, err := opts.app.collector(target)
			if err != nil {
				return err
			}
			req, err := request(target)
			if err != nil {
				return err
			}

			run, err := col.Collect(cmd.Context(), req)
			printRun(cmd.OutOrStdout(), target.Name, run, err)
			return err
		},
	}

	cmd.Flags().IntVar(&maxRecords, "max-records", 0, "Stop after this many records (0 = no limit).")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Records per request (0 = provider maximum).")
	cmd.Flags().StringVar(&since, "since", "", "Stop at records that started before this RFC3339 time.")
	return cmd
}

func newCollectAllCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collect-all",
		Short: "Collects every configured target, paginated targets in parallel.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() { err = opts.finish(err) }()
			a := opts.app

			var errs []error
			var jobs []runner.Job
			for _, target := range a.cfg.Targets {
				if target.Snapshot {
					if err := runSnapshot(cmd, a, target); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", target.Name, err))
					}
					continue
				}

				col, err := a.collector(target)
				if err != nil {
					return err
				}
				req, err := request(target)
				if err != nil {
					return err
				}
				jobs = append(jobs, runner.Job{Target: target.Name, Collector: col, Request: req})
			}

			results := runner.New(runner.Config{
				MaxConcurrency: a.cfg.Concurrency,
				Timeout:        a.cfg.TargetTimeout,
			}).RunAll(cmd.Context(), jobs)
			for _, res := range results {
				printRun(cmd.OutOrStdout(), res.Target, res.Run, res.Err)
			}
			return errors.Join(append(errs, runner.Err(results))...)
		},
	}
}

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <target>",
		Short: "Fetches a reference endpoint once, through the response cache.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() { err = opts.finish(err) }()

			target, err := opts.app.cfg.Target(args[0])
			if err != nil {
				return err
			}
			return runSnapshot(cmd, opts.app, target)
		},
	}
}

func runSnapshot(cmd *cobra.Command, a *app, target config.TargetConfig) error {
	col, err := a.collector(target)
	if err != nil {
		return err
	}
	n, err := col.Snapshot(cmd.Context(), target.Endpoint, target.Query())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: snapshot of %s, %d records\n", target.Name, target.Endpoint, n)
	return nil
}

// printRun writes a one-line summary. Failed runs report the cursor the next
// run resumes from.
func printRun(w io.Writer, target string, run *collector.Run, err error) {
	if err != nil {
		var runErr *collector.RunError
		if errors.As(err, &runErr) {
			fmt.Fprintf(w, "%s: failed, terminal cursor %d\n", target, runErr.Cursor)
		} else {
			fmt.Fprintf(w, "%s: failed: %v\n", target, err)
		}
		return
	}
	fmt.Fprintf(w, "%s: %s, %d records in %d pages, cursor %d -> %d (%s)\n",
		target, run.StopReason, run.Records, run.Pages,
		run.InitialCursor, run.TerminalCursor, run.Elapsed.Round(time.Millisecond))
}
