package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cachegen/internal/app"
	"cachegen/internal/batch"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run large operations in resumable chunks",
	}
	batchCmd.AddCommand(newBatchStartCommand(ctx))
	batchCmd.AddCommand(newBatchChunkCommand(ctx))
	batchCmd.AddCommand(newBatchShowCommand(ctx))
	batchCmd.AddCommand(newBatchCancelCommand(ctx))
	return batchCmd
}

func newBatchStartCommand(ctx *commandContext) *cobra.Command {
	var chunkSize int
	var fromFile string
	var run bool

	cmd := &cobra.Command{
		Use:   "start <operation> [resource-id...]",
		Short: "Create a batch job (operation: generate, regenerate, delete)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items := append([]string{}, args[1:]...)
			if fromFile != "" {
				fileItems, err := readItemsFile(fromFile)
				if err != nil {
					return err
				}
				items = append(items, fileItems...)
			}
			return ctx.withApp(func(a *app.App) error {
				id, err := a.Batches.StartBatch(cmd.Context(), items, args[0], chunkSize)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Batch %s created with %d items\n", id, len(items))
				if !run {
					return nil
				}
				for {
					result, err := a.Batches.ProcessChunk(cmd.Context(), id)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, chunkLine(result))
					if result.Status != batch.StatusProcessing && result.Status != batch.StatusPending {
						return nil
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Items per chunk (0 uses the configured default)")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Read resource ids from a file, one per line (- for stdin)")
	cmd.Flags().BoolVar(&run, "run", false, "Process every chunk before returning")
	return cmd
}

func newBatchChunkCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "chunk <batch-id>",
		Short: "Process the next chunk of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				result, err := a.Batches.ProcessChunk(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, result)
				}
				fmt.Fprintln(cmd.OutOrStdout(), chunkLine(result))
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newBatchShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show batch job state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				job, err := a.Batches.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				renderBatchJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newBatchCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel a batch; processed chunks stay processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				job, err := a.Batches.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %s cancelled after %d of %d items\n", job.ID, job.Processed, job.Total())
				return nil
			})
		},
	}
}

// chunkLine renders a chunk result; chunk numbers are shown 1-based.
func chunkLine(r batch.ChunkResult) string {
	return fmt.Sprintf("Chunk %d/%d: %d/%d processed (%d%%), %d ok, %d failed [%s]",
		min(r.Chunk+1, r.TotalChunks), r.TotalChunks, r.Processed, r.Total, r.Percentage, r.Successful, r.Failed, r.Status)
}

func renderBatchJob(w io.Writer, job *batch.Job) {
	rows := [][]string{
		{"ID", job.ID},
		{"Operation", job.Operation},
		{"Status", string(job.Status)},
		{"Progress", fmt.Sprintf("%d/%d (%d%%)", job.Processed, job.Total(), job.Percentage())},
		{"Chunks", fmt.Sprintf("%d/%d (size %d)", job.CurrentChunk, job.TotalChunks(), job.ChunkSize)},
		{"Successful", strconv.Itoa(job.Successful)},
		{"Failed", strconv.Itoa(job.Failed)},
		{"Progress session", job.ProgressID},
		{"Created", formatTimestamp(job.CreatedAt)},
		{"Updated", formatTimestamp(job.UpdatedAt)},
	}
	printTable(w, []string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
	if len(job.Errors) == 0 {
		return
	}
	errRows := make([][]string, 0, len(job.Errors))
	for _, item := range job.Items {
		if msg, ok := job.Errors[item]; ok {
			errRows = append(errRows, []string{item, truncate(msg, 72)})
		}
	}
	printTable(w, []string{"Resource", "Error"}, errRows, []columnAlignment{alignLeft, alignLeft})
}

func readItemsFile(path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open items file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var items []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read items file: %w", err)
	}
	return items, nil
}
