package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cachegen/internal/api"
	"cachegen/internal/app"
	"cachegen/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRecoverCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))
	queueCmd.AddCommand(newQueueTickCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				summary, err := a.Manager.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.FromStatusSummary(summary))
				}
				rows := buildQueueStatusRows(summary.Counts)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				printTable(cmd.OutOrStdout(), []string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := api.ParseStatuses(statusFilters)
			if err != nil {
				return err
			}
			return ctx.withApp(func(a *app.App) error {
				items, err := a.Manager.Items(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.QueueListResponse{Items: api.FromQueueItems(items)})
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				printTable(cmd.OutOrStdout(),
					[]string{"ID", "Target", "Action", "Status", "Priority", "Attempts", "Queued", "Error"},
					buildQueueListRows(items),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statusFilters, "status", "s", nil, "Filter by status (pending, processing, completed, failed)")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var (
		action        string
		targetType    string
		priority      int
		maxAttempts   int
		payloadPairs  []string
		raisePriority bool
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "add <target-id>...",
		Short: "Enqueue work for one or more targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(payloadPairs)
			if err != nil {
				return err
			}
			reqs := make([]queue.EnqueueRequest, 0, len(args))
			for _, target := range args {
				req, err := api.EnqueueRequest{
					TargetID:      target,
					TargetType:    targetType,
					Action:        action,
					Priority:      priority,
					MaxAttempts:   maxAttempts,
					Payload:       payload,
					RaisePriority: raisePriority,
				}.ToQueueRequest()
				if err != nil {
					return err
				}
				reqs = append(reqs, req)
			}

			return ctx.withApp(func(a *app.App) error {
				report, err := a.Manager.EnqueueBulk(cmd.Context(), reqs)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.FromBulkReport(report))
				}
				out := cmd.OutOrStdout()
				for _, item := range report.Items {
					fmt.Fprintf(out, "Queued #%d %s %s (priority %d)\n", item.ID, item.Action, item.TargetID, item.Priority)
				}
				for _, rejected := range report.Rejected {
					fmt.Fprintf(out, "Rejected %s: %s\n", rejected.TargetID, rejected.Error)
				}
				fmt.Fprintf(out, "Created %d, deduplicated %d, rejected %d\n", report.Created, report.Deduplicated, len(report.Rejected))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&action, "action", "a", string(queue.ActionGenerate), "Action to perform (generate, regenerate, delete, custom)")
	cmd.Flags().StringVar(&targetType, "type", "", "Target type (default post)")
	cmd.Flags().IntVarP(&priority, "priority", "p", 0, "Priority; lower runs first (0 uses the configured default)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempt budget (0 uses the configured default)")
	cmd.Flags().StringArrayVar(&payloadPairs, "payload", nil, "Payload entry as key=value (repeatable)")
	cmd.Flags().BoolVar(&raisePriority, "raise-priority", false, "Raise the priority of an existing active item when this request is more urgent")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(statusFilters) == 0 {
				return fmt.Errorf("specify --status or --all")
			}
			statuses, err := api.ParseStatuses(statusFilters)
			if err != nil {
				return err
			}
			return ctx.withApp(func(a *app.App) error {
				removed, err := a.Manager.Clear(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d items\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statusFilters, "status", "s", nil, "Only remove items in these statuses")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every item")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Return failed items to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseItemIDs(args)
			if err != nil {
				return err
			}
			return ctx.withApp(func(a *app.App) error {
				count, err := a.Manager.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retried %d failed items\n", count)
				return nil
			})
		},
	}
}

func newQueueRecoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Requeue items stuck in processing past the stale threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				result, err := a.Manager.RecoverStale(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d, failed %d stale items\n", result.Requeued, result.Failed)
				return nil
			})
		},
	}
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete finished items older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				count, err := a.Manager.PurgeRetention(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d items\n", count)
				return nil
			})
		},
	}
}

func newQueueTickCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Process one batch of pending items now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				report, err := a.Manager.Tick(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, report)
				}
				out := cmd.OutOrStdout()
				if report.Skipped {
					fmt.Fprintln(out, "Tick skipped: another tick is running")
					return nil
				}
				if len(report.Items) > 0 {
					printTable(out, []string{"ID", "Target", "Action", "Status", "Attempts", "Error"},
						buildTickRows(report.Items),
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
					)
				}
				fmt.Fprintf(out, "Processed %d of %d selected: %d completed, %d requeued, %d failed (%s)\n",
					report.Processed, report.Selected, report.Completed, report.Requeued, report.Failed, report.Duration.Round(time.Millisecond))
				if report.Unrecorded > 0 {
					fmt.Fprintf(out, "%d items ran but their outcome could not be saved; the stale sweep will reclaim them\n", report.Unrecorded)
				}
				if report.BudgetExhausted {
					fmt.Fprintln(out, "Time budget exhausted; remaining items wait for the next tick")
				}
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check queue database health (schema, integrity, columns)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				health, err := a.Queue.CheckHealth(cmd.Context())
				if err != nil && health.DBPath == "" {
					return err
				}
				if asJSON {
					return writeJSON(cmd, health)
				}
				counts, countErr := a.Queue.Health(cmd.Context())
				rows := [][]string{
					{"Database", health.DBPath},
					{"Exists", yesNo(health.DatabaseExists)},
					{"Readable", yesNo(health.DatabaseReadable)},
					{"Schema version", strconv.Itoa(health.SchemaVersion)},
					{"queue_items table", yesNo(health.TableExists)},
					{"Missing columns", joinOrNone(health.MissingColumns)},
					{"Integrity check", yesNo(health.IntegrityCheck)},
					{"Total items", strconv.Itoa(health.TotalItems)},
				}
				if countErr == nil {
					rows = append(rows, []string{"Active", fmt.Sprintf("%d pending, %d processing", counts.Pending, counts.Processing)})
				}
				if health.Error != "" {
					rows = append(rows, []string{"Error", health.Error})
				}
				printTable(cmd.OutOrStdout(), []string{"Check", "Result"}, rows, []columnAlignment{alignLeft, alignLeft})
				return err
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

func parseItemIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parsePayload(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	payload := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid payload entry %q (expected key=value)", pair)
		}
		payload[key] = value
	}
	return payload, nil
}
