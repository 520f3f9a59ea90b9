package main

import (
	"errors"

	"github.com/Sternrassler/dota-collector/internal/config"
	"github.com/Sternrassler/dota-collector/pkg/logging"
	"github.com/Sternrassler/dota-collector/pkg/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath  string
	metricsAddr string
	logLevel    string
	pretty      bool

	app *app
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "dota-collector",
		Short:         "Collects Dota 2 statistics from paginated APIs with a resumable cursor.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = logging.LogLevel(opts.logLevel)
			}
			if opts.pretty {
				cfg.Log.Pretty = true
			}
			cfg.Log.Output = cmd.ErrOrStderr()
			logging.Setup(cfg.Log)

			if opts.metricsAddr != "" {
				go func() {
					if err := metrics.Serve(cmd.Context(), opts.metricsAddr); err != nil {
						log.Error().Err(err).Str("addr", opts.metricsAddr).Msg("Metrics server failed")
					}
				}()
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			opts.app = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "collector.yaml", "Path to the YAML configuration.")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090).")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override the configured log level.")
	flags.BoolVar(&opts.pretty, "pretty", false, "Human-readable logs.")

	cmd.AddCommand(
		newCollectCmd(opts),
		newCollectAllCmd(opts),
		newSnapshotCmd(opts),
		newCursorCmd(opts),
	)
	return cmd
}

// close releases the app. PersistentPostRunE is skipped when a command
// fails, so commands also defer it.
func (o *rootOptions) close() error {
	if o.app == nil {
		return nil
	}
	err := o.app.Close()
	o.app = nil
	return err
}

// finish closes the app and joins its error with the command error.
func (o *rootOptions) finish(err error) error {
	return errors.Join(err, o.close())
}
