package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"cachegen/internal/app"
	"cachegen/internal/progress"
)

func newProgressCommand(ctx *commandContext) *cobra.Command {
	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect long-running operation progress",
	}
	progressCmd.AddCommand(newProgressListCommand(ctx))
	progressCmd.AddCommand(newProgressShowCommand(ctx))
	progressCmd.AddCommand(newProgressCancelCommand(ctx))
	return progressCmd
}

func newProgressListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retained progress sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				sessions, err := a.Progress.List(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, sessions)
				}
				if len(sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No progress sessions")
					return nil
				}
				rows := make([][]string, 0, len(sessions))
				for _, s := range sessions {
					rows = append(rows, []string{
						s.ID,
						s.Operation,
						string(s.Status),
						fmt.Sprintf("%d/%d", s.Current, s.Total),
						strconv.Itoa(s.Percentage) + "%",
						formatTimestamp(s.StartedAt),
					})
				}
				printTable(cmd.OutOrStdout(), []string{"ID", "Operation", "Status", "Items", "Done", "Started"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft})
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newProgressShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one progress session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				session, err := a.Progress.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, session)
				}
				renderSession(cmd.OutOrStdout(), session)
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newProgressCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Mark a progress session cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				session, err := a.Progress.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Progress session %s %s\n", session.ID, session.Status)
				return nil
			})
		},
	}
}

func renderSession(w io.Writer, s *progress.Session) {
	eta := "-"
	if s.ETASeconds > 0 && !s.Status.IsTerminal() {
		eta = fmt.Sprintf("%.0fs", s.ETASeconds)
	}
	rows := [][]string{
		{"ID", s.ID},
		{"Operation", s.Operation},
		{"Status", string(s.Status)},
		{"Items", fmt.Sprintf("%d/%d (%d%%)", s.Current, s.Total, s.Percentage)},
		{"Current item", s.CurrentItem},
		{"Rate", fmt.Sprintf("%.2f items/s", s.ItemsPerSecond)},
		{"ETA", eta},
		{"Started", formatTimestamp(s.StartedAt)},
		{"Completed", formatOptionalTimestamp(s.CompletedAt)},
	}
	printTable(w, []string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
	for _, entry := range s.Errors {
		fmt.Fprintf(w, "error %s: %s\n", formatTimestamp(entry.At), entry.Message)
	}
	for _, entry := range s.Messages {
		fmt.Fprintf(w, "%s: %s\n", formatTimestamp(entry.At), entry.Message)
	}
}
