package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cachegen/internal/app"
	"cachegen/internal/artifact"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	return newArtifactCommand(ctx, artifact.OpGenerate, "generate <resource-id>...", "Generate artifacts now, bypassing the queue")
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return newArtifactCommand(ctx, artifact.OpDelete, "delete <resource-id>...", "Delete artifacts now, bypassing the queue")
}

func newArtifactCommand(ctx *commandContext, op artifact.Operation, use, short string) *cobra.Command {
	var rollback bool
	var stopOnError bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				opts := artifact.BulkOptions{RollbackOnFailure: rollback}
				if stopOnError {
					opts.Abort = func(artifact.Result) bool { return true }
				}
				result := a.Executor.Bulk(cmd.Context(), args, op, opts)
				if asJSON {
					if err := writeJSON(cmd, result); err != nil {
						return err
					}
				} else {
					renderBulkResult(cmd, result)
				}
				if failed := result.FailedCount(); failed > 0 {
					return fmt.Errorf("%d of %d %s operations failed", failed, result.Total, op)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Restore every completed item when any item fails")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "Stop after the first failure")
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func renderBulkResult(cmd *cobra.Command, result artifact.BulkResult) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(result.Results))
	for _, r := range result.Results {
		rows = append(rows, []string{
			r.ResourceID,
			resultLabel(r),
			strconv.FormatInt(r.Size, 10),
			truncate(r.Fingerprint, 12),
			truncate(r.Error, 48),
		})
	}
	printTable(out, []string{"Resource", "Result", "Bytes", "Fingerprint", "Error"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft})
	fmt.Fprintf(out, "%d completed, %d failed of %d\n", result.CompletedCount(), result.FailedCount(), result.Total)
	if result.Aborted {
		fmt.Fprintln(out, "Stopped after first failure")
	}
	if result.RolledBack {
		fmt.Fprintln(out, "Completed items were rolled back")
	}
}

func resultLabel(r artifact.Result) string {
	switch {
	case r.RolledBack:
		return "rolled back"
	case r.Skipped:
		return "skipped"
	case r.Success:
		return "ok"
	case r.Code != "":
		return r.Code
	default:
		return "failed"
	}
}
