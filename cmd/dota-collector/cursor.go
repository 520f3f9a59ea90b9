package main

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/dota-collector/pkg/checkpoint"
	"github.com/spf13/cobra"
)

func newCursorCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspects or resets persisted cursors.",
	}

	show := &cobra.Command{
		Use:   "show [target...]",
		Short: "Prints the persisted cursor of each target.",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() { err = opts.finish(err) }()
			a := opts.app

			names := args
			if len(names) == 0 {
				names = a.cfg.TargetNames()
			}
			for _, name := range names {
				if _, err := a.cfg.Target(name); err != nil {
					return err
				}
				state, err := a.store.Load(cmd.Context(), name)
				if errors.Is(err, checkpoint.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: no cursor\n", name)
					continue
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: cursor %d, %d records, updated %s\n",
					name, state.LastID, state.Records, state.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset <target>",
		Short: "Deletes the cursor so the next run starts from the beginning.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() { err = opts.finish(err) }()

			if _, err := opts.app.cfg.Target(args[0]); err != nil {
				return err
			}
			if err := opts.app.store.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: cursor reset\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(show, reset)
	return cmd
}
