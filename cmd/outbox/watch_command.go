package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"outbox/internal/api"
	"outbox/internal/apiclient"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream queue, connectivity and sync events from the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			watchCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			enc := json.NewEncoder(out)
			return ctx.withClient(func(client *apiclient.Client) error {
				return client.Events(watchCtx, func(evt api.Event) error {
					if ctx.jsonOutput() {
						return enc.Encode(evt)
					}
					printEvent(out, evt, colorize)
					return nil
				})
			})
		},
	}
}

func printEvent(out io.Writer, evt api.Event, colorize bool) {
	stamp := formatDisplayTime(evt.Timestamp)
	switch evt.Type {
	case api.EventConnectivityChanged:
		kind, detail := statusWarn, "offline"
		if evt.Online != nil && *evt.Online {
			kind, detail = statusOK, "online"
		}
		fmt.Fprintf(out, "%s %s\n", stamp, renderStatusLine("Connectivity", kind, detail, colorize))
	case api.EventQueueChanged:
		detail := ""
		if evt.Item != nil {
			detail = fmt.Sprintf("queued %s #%d", evt.Item.Type, evt.Item.ID)
		}
		if evt.Pending != nil {
			if detail != "" {
				detail += ", "
			}
			detail += fmt.Sprintf("%d pending", *evt.Pending)
		}
		fmt.Fprintf(out, "%s %s\n", stamp, renderStatusLine("Queue", statusInfo, detail, colorize))
	case api.EventSyncCycle:
		if evt.Cycle == nil {
			return
		}
		detail := fmt.Sprintf("%s (%s)", describeCycle(*evt.Cycle), evt.Cycle.Trigger)
		fmt.Fprintf(out, "%s %s\n", stamp, renderStatusLine("Sync", outcomeKind(evt.Cycle.Outcome), detail, colorize))
	default:
		fmt.Fprintf(out, "%s %s\n", stamp, renderStatusLine(evt.Type, statusInfo, "", colorize))
	}
}
