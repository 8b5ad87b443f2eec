package main

import (
	"github.com/spf13/cobra"

	"outbox/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync daemon in the foreground",
		Long: `Run the sync daemon in the foreground until SIGINT or SIGTERM.

The daemon holds a lock in the data directory so only one instance runs per
queue. It syncs on startup, on every interval tick and whenever connectivity
returns.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.AssumeOnline, "assume-online", false, "Skip reachability probing and treat the endpoint as always reachable")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.Diagnostic, "diagnostic", false, "Also write a DEBUG JSON log under log_dir/debug")
	return cmd
}
