package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cachegen/internal/api"
	"cachegen/internal/app"
	"cachegen/internal/notifications"
)

func newLocksCommand(ctx *commandContext) *cobra.Command {
	locksCmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and recover per-resource locks",
	}
	locksCmd.AddCommand(newLocksListCommand(ctx))
	locksCmd.AddCommand(newLocksCleanupCommand(ctx))
	locksCmd.AddCommand(newLocksReleaseAllCommand(ctx))
	return locksCmd
}

func newLocksListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List held locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				records, err := a.Locks.List(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.LockListResponse{Locks: api.FromLockRecords(records)})
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No locks held")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, info := range api.FromLockRecords(records) {
					rows = append(rows, []string{info.ResourceID, info.Holder, info.AcquiredAt, info.ExpiresAt})
				}
				printTable(cmd.OutOrStdout(), []string{"Resource", "Holder", "Acquired", "Expires"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft})
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newLocksCleanupCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				removed, err := a.Locks.CleanupExpired(cmd.Context(), maxAge)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale locks\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Treat locks older than this as stale (0 uses each lock's timeout)")
	return cmd
}

func newLocksReleaseAllCommand(ctx *commandContext) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "release-all",
		Short: "Force-release every lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("release-all bypasses per-resource exclusion; rerun with --yes to confirm")
			}
			return ctx.withApp(func(a *app.App) error {
				released, err := a.Locks.ForceReleaseAll(cmd.Context())
				if err != nil {
					return err
				}
				_ = a.Notifier.Publish(cmd.Context(), notifications.EventLocksReleased, notifications.Payload{"count": released})
				fmt.Fprintf(cmd.OutOrStdout(), "Released %d locks\n", released)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm the release")
	return cmd
}
