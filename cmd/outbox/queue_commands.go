package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"outbox/internal/api"
	"outbox/internal/queue"
	"outbox/internal/queueaccess"
)

const payloadPreviewWidth = 60

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the pending action queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueCountCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var types []string
	var newestFirst bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending actions in delivery order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(access queueaccess.Access) error {
				items, err := access.List(cmd.Context(), types)
				if err != nil {
					return err
				}
				if newestFirst {
					items = api.SortQueueItemsNewestFirst(items)
				}
				if ctx.jsonOutput() {
					if items == nil {
						items = []api.QueueItem{}
					}
					return writeJSON(cmd, api.QueueListResponse{Items: items})
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable([]column{
					{header: "ID", align: alignRight},
					{header: "Type"},
					{header: "Created"},
					{header: "Payload", maxWidth: payloadPreviewWidth},
				}, buildQueueListRows(items))
				fmt.Fprint(cmd.OutOrStdout(), table)
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Filter by action type (repeatable)")
	cmd.Flags().BoolVar(&newestFirst, "newest", false, "Show newest actions first")
	return cmd
}

func newQueueCountCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of pending actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(access queueaccess.Access) error {
				stats, err := access.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int{"pending": stats.Pending})
				}
				fmt.Fprintln(cmd.OutOrStdout(), stats.Pending)
				return nil
			})
		},
	}
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize pending actions by type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(access queueaccess.Access) error {
				stats, err := access.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				if stats.Pending == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprintf(out, "Pending: %d\n", stats.Pending)
				fmt.Fprintf(out, "Oldest:  %s\n", formatDisplayTime(stats.Oldest))
				fmt.Fprintf(out, "Newest:  %s\n", formatDisplayTime(stats.Newest))
				table := renderTable([]column{{header: "Type"}, {header: "Count", align: alignRight}}, buildTypeRows(stats.ByType))
				fmt.Fprint(out, table)
				fmt.Fprintln(out)
				return nil
			})
		},
	}
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid action id %q", args[0])
			}
			return ctx.withQueue(func(access queueaccess.Access) error {
				item, err := access.Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				if item == nil {
					return fmt.Errorf("action #%d is not queued", id)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.QueueItemResponse{Item: *item})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:      %d\n", item.ID)
				fmt.Fprintf(out, "Type:    %s\n", item.Type)
				fmt.Fprintf(out, "Created: %s\n", formatDisplayTime(item.CreatedAt))
				fmt.Fprintf(out, "Payload: %s\n", string(item.Payload))
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the queue database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(access queueaccess.Access) error {
				health, err := access.Health(cmd.Context())
				if ctx.jsonOutput() {
					if encErr := writeJSON(cmd, health); encErr != nil {
						return encErr
					}
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				writeSection(out, "Queue Database", healthLines(health, colorize), colorize)
				return err
			})
		},
	}
}

func healthLines(health queue.DatabaseHealth, colorize bool) []string {
	check := func(label string, ok bool, detail string) string {
		kind := statusOK
		if !ok {
			kind = statusError
		}
		return renderStatusLine(label, kind, detail, colorize)
	}
	lines := []string{
		renderStatusLine("Path", statusInfo, health.DBPath, colorize),
		check("Exists", health.DatabaseExists, yesNo(health.DatabaseExists)),
		check("Readable", health.DatabaseReadable, yesNo(health.DatabaseReadable)),
		renderStatusLine("Schema version", statusInfo, strconv.Itoa(health.SchemaVersion), colorize),
		check("Queue table", health.TableExists && len(health.MissingColumns) == 0, columnsDetail(health)),
		check("Integrity", health.IntegrityCheck, yesNo(health.IntegrityCheck)),
		renderStatusLine("Pending", statusInfo, strconv.Itoa(health.TotalItems), colorize),
	}
	if health.Error != "" {
		lines = append(lines, renderStatusLine("Error", statusError, health.Error, colorize))
	}
	return lines
}

func columnsDetail(health queue.DatabaseHealth) string {
	if !health.TableExists {
		return "missing"
	}
	if len(health.MissingColumns) > 0 {
		return "missing columns: " + strings.Join(health.MissingColumns, ", ")
	}
	return "ok"
}

func buildQueueListRows(items []api.QueueItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			item.Type,
			formatDisplayTime(item.CreatedAt),
			truncate(string(item.Payload), payloadPreviewWidth),
		})
	}
	return rows
}

func buildTypeRows(byType map[string]int) [][]string {
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	rows := make([][]string, 0, len(types))
	for _, t := range types {
		rows = append(rows, []string{t, strconv.Itoa(byType[t])})
	}
	return rows
}

func formatDisplayTime(value string) string {
	ts := api.ParseQueueTime(value)
	if ts.IsZero() {
		if value == "" {
			return "-"
		}
		return value
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
