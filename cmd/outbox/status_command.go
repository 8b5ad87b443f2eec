package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"outbox/internal/api"
	"outbox/internal/apiclient"
	"outbox/internal/config"
	"outbox/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, connectivity and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			status, err := fetchStatus(cmd.Context(), ctx, cfg)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			renderStatus(out, status, shouldColorize(out))
			return nil
		},
	}
}

// fetchStatus asks the daemon for its status. When the daemon is down it
// reports what can be read from the queue database.
func fetchStatus(reqCtx context.Context, ctx *commandContext, cfg *config.Config) (api.DaemonStatus, error) {
	client, err := ctx.dialDaemon()
	if err == nil {
		defer client.Close()
		status, err := client.Status(reqCtx)
		if err != nil {
			return api.DaemonStatus{}, err
		}
		return *status, nil
	}
	if !errors.Is(err, apiclient.ErrDaemonUnavailable) {
		return api.DaemonStatus{}, err
	}

	status := api.DaemonStatus{
		Endpoint:     cfg.Sync.Endpoint,
		QueueDBPath:  cfg.QueueDBPath(),
		LockFilePath: cfg.LockPath(),
		LogPath:      cfg.LogPath(),
		Scheduler: api.SchedulerStatus{
			State:           "stopped",
			IntervalSeconds: int64(cfg.SyncInterval().Seconds()),
		},
	}
	if cfg.SpoolEnabled() {
		status.SpoolDir = cfg.Spool.Dir
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return api.DaemonStatus{}, err
	}
	defer store.Close()
	if status.Pending, err = store.Count(reqCtx); err != nil {
		return api.DaemonStatus{}, err
	}
	if status.SourceID, err = store.SourceID(reqCtx); err != nil {
		return api.DaemonStatus{}, err
	}
	return status, nil
}

func renderStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	writeSection(out, "Daemon", daemonLines(status, colorize), colorize)
	fmt.Fprintln(out)
	writeSection(out, "Sync", syncLines(status, colorize), colorize)
	fmt.Fprintln(out)
	writeSection(out, "Paths", pathLines(status, colorize), colorize)
	if len(status.Checks) > 0 {
		fmt.Fprintln(out)
		lines := make([]string, 0, len(status.Checks))
		for _, check := range status.Checks {
			kind, detail := statusOK, "ok"
			if !check.Passed {
				kind, detail = statusError, check.Detail
			}
			lines = append(lines, renderStatusLine(check.Name, kind, detail, colorize))
		}
		writeSection(out, "Checks", lines, colorize)
	}
}

func daemonLines(status api.DaemonStatus, colorize bool) []string {
	if !status.Running {
		return []string{
			renderStatusLine("Outbox", statusError, "Not running", colorize),
			renderStatusLine("Pending", statusInfo, strconv.Itoa(status.Pending), colorize),
		}
	}
	lines := []string{
		renderStatusLine("Outbox", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize),
	}
	if status.Online {
		detail := "Online"
		if since := formatDisplayTime(status.OnlineSince); since != "-" {
			detail += " since " + since
		}
		lines = append(lines, renderStatusLine("Connectivity", statusOK, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Connectivity", statusWarn, "Offline", colorize))
	}
	pendingKind := statusInfo
	if status.Pending > 0 && !status.Online {
		pendingKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Pending", pendingKind, strconv.Itoa(status.Pending), colorize))
	if status.Stranded > 0 {
		lines = append(lines, renderStatusLine("Held in memory", statusWarn, strconv.Itoa(status.Stranded), colorize))
	}
	return lines
}

func syncLines(status api.DaemonStatus, colorize bool) []string {
	lines := []string{
		renderStatusLine("Endpoint", statusInfo, status.Endpoint, colorize),
		renderStatusLine("Scheduler", statusInfo, fmt.Sprintf("%s, every %ds", humanLabel(status.Scheduler.State), status.Scheduler.IntervalSeconds), colorize),
	}
	if status.Scheduler.NextRun != "" {
		lines = append(lines, renderStatusLine("Next run", statusInfo, formatDisplayTime(status.Scheduler.NextRun), colorize))
	}
	if status.LastCycle != nil {
		detail := fmt.Sprintf("%s (%s)", describeCycle(*status.LastCycle), status.LastCycle.Trigger)
		lines = append(lines, renderStatusLine("Last cycle", outcomeKind(status.LastCycle.Outcome), detail, colorize))
	}
	if status.ConsecutiveFailures > 0 {
		lines = append(lines, renderStatusLine("Failures", statusWarn, fmt.Sprintf("%d consecutive", status.ConsecutiveFailures), colorize))
	}
	if status.SourceID != "" {
		lines = append(lines, renderStatusLine("Source ID", statusInfo, status.SourceID, colorize))
	}
	return lines
}

func pathLines(status api.DaemonStatus, colorize bool) []string {
	lines := []string{
		renderStatusLine("Queue", statusInfo, status.QueueDBPath, colorize),
		renderStatusLine("Lock", statusInfo, status.LockFilePath, colorize),
	}
	if status.LogPath != "" {
		lines = append(lines, renderStatusLine("Log", statusInfo, status.LogPath, colorize))
	}
	if status.SpoolDir != "" {
		lines = append(lines, renderStatusLine("Spool", statusInfo, status.SpoolDir, colorize))
	}
	return lines
}
