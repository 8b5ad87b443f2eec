package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"outbox/internal/api"
	"outbox/internal/queueaccess"
)

const maxPayloadBytes = 1 << 20

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue TYPE [PAYLOAD|-]",
		Short: "Queue an action for delivery",
		Long: `Queue an action for delivery.

PAYLOAD must be JSON. Pass "-" to read it from stdin. Without a payload the
action is stored with a null payload.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}

			var item *api.QueueItem
			var live bool
			err = ctx.withQueue(func(access queueaccess.Access) error {
				live = access.Live()
				var enqueueErr error
				item, enqueueErr = access.Enqueue(cmd.Context(), args[0], payload)
				return enqueueErr
			})
			if err != nil {
				return err
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, api.QueueItemResponse{Item: *item})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queued %s action #%d\n", item.Type, item.ID)
			if !live {
				fmt.Fprintln(out, "Daemon is not running; the action will sync once it starts")
			}
			return nil
		},
	}
}

func readPayload(stdin io.Reader, args []string) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	raw := args[0]
	if raw == "-" {
		data, err := io.ReadAll(io.LimitReader(stdin, maxPayloadBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read payload from stdin: %w", err)
		}
		if len(data) > maxPayloadBytes {
			return nil, errors.New("payload exceeds 1 MiB")
		}
		raw = string(data)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, errors.New("payload must be valid JSON")
	}
	return json.RawMessage(raw), nil
}
