package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"outbox/internal/daemonctl"
)

const (
	stopGracePeriod  = 10 * time.Second
	startWaitTimeout = 10 * time.Second
)

func newLifecycleCommands(ctx *commandContext) []*cobra.Command {
	var startOpts daemonctl.LaunchOptions
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sync daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(cfg, exe, daemonLaunchOptions(ctx, startOpts), startWaitTimeout)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, describePID("Daemon started", result.PID))
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, describePID("Daemon already running", result.PID))
			}
			return nil
		},
	}
	addLaunchFlags(startCmd, &startOpts)

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := daemonctl.Stop(cfg, stopGracePeriod)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit within %s; killed pid %d\n", stopGracePeriod, result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var restartOpts daemonctl.LaunchOptions
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the background sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(cfg, exe, daemonLaunchOptions(ctx, restartOpts), stopGracePeriod, startWaitTimeout)
			if err != nil {
				return err
			}
			if result.WasRunning {
				if result.Stop.ForcedKill {
					fmt.Fprintf(stdout, "Killed unresponsive daemon (pid %d)\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintln(stdout, describePID("Daemon restarted", result.Start.PID))
			return nil
		},
	}
	addLaunchFlags(restartCmd, &restartOpts)

	return []*cobra.Command{startCmd, stopCmd, restartCmd}
}

func addLaunchFlags(cmd *cobra.Command, opts *daemonctl.LaunchOptions) {
	cmd.Flags().BoolVar(&opts.AssumeOnline, "assume-online", false, "Skip reachability probing in the launched daemon")
	cmd.Flags().BoolVar(&opts.Diagnostic, "diagnostic", false, "Also write a DEBUG JSON log under log_dir/debug")
}

func describePID(message string, pid int) string {
	if pid <= 0 {
		return message
	}
	return fmt.Sprintf("%s (pid %d)", message, pid)
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, flags daemonctl.LaunchOptions) daemonctl.LaunchOptions {
	opts := flags
	if ctx.configFlag != nil {
		if path := strings.TrimSpace(*ctx.configFlag); path != "" {
			opts.ConfigPath = path
		}
	}
	return opts
}
