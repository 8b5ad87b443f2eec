package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"outbox/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.LogPath()
			if path == "" {
				return errors.New("file logging is disabled; set paths.log_dir")
			}
			if lines < 0 {
				lines = 0
			}

			stdout := cmd.OutOrStdout()
			result, err := logs.Tail(path, lines)
			if err != nil {
				return fmt.Errorf("tail logs: %w", err)
			}
			for _, line := range result.Lines {
				fmt.Fprintln(stdout, line)
			}
			if !follow {
				if len(result.Lines) == 0 {
					fmt.Fprintln(stdout, "No log entries available")
				}
				return nil
			}

			return logs.Follow(cmd.Context(), path, result.Offset, func(line string) {
				fmt.Fprintln(stdout, line)
			})
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show before following")
	return cmd
}
