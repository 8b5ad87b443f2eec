package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"outbox/internal/api"
	"outbox/internal/apiclient"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Ask the daemon to deliver pending actions now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				result, err := client.Sync(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.SyncResponse{Result: *result})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderStatusLine("Sync", outcomeKind(result.Outcome), describeCycle(*result), shouldColorize(out)))
				return nil
			})
		},
	}
}

func describeCycle(result api.CycleResult) string {
	switch result.Outcome {
	case "delivered":
		return fmt.Sprintf("delivered %d action(s) in %dms", result.Delivered, result.DurationMs)
	case "partial":
		return fmt.Sprintf("delivered %d of %d action(s); %d requeued", result.Delivered, result.Submitted, result.Restored)
	case "empty":
		return "nothing to deliver"
	case "offline":
		return "endpoint unreachable; actions stay queued"
	case "busy":
		return "a sync is already in progress"
	case "failed", "storage_error":
		detail := fmt.Sprintf("%s; %d action(s) requeued", humanLabel(result.Outcome), result.Restored)
		if result.Stranded > 0 {
			detail += fmt.Sprintf(", %d held in memory", result.Stranded)
		}
		if result.Error != "" {
			detail += ": " + result.Error
		}
		return detail
	default:
		return result.Outcome
	}
}
