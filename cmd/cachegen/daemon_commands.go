package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cachegen/internal/api"
	"cachegen/internal/app"
	"cachegen/internal/daemonctl"
	"cachegen/internal/daemonrun"
	"cachegen/internal/preflight"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the background daemon",
	}
	daemonCmd.AddCommand(newDaemonRunCommand(ctx))
	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))
	return daemonCmd
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			state, err := daemonctl.EnsureStarted(cmd.Context(), cfg, exe,
				daemonctl.LaunchOptions{ConfigPath: ctx.launchConfigPath(), LogLevel: logLevel},
				10*time.Second,
			)
			if err != nil {
				return err
			}
			switch state {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon already running")
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon started on %s\n", cfg.Paths.APIBind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			result, err := daemonctl.Stop(cmd.Context(), cfg, 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintf(out, "Daemon stopped (pid %d)\n", result.PID)
			return nil
		},
	}
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, store and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := collectStatus(cmd.Context(), ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			p := newStatusPrinter(out)
			renderDaemonStatus(p, status)
			fmt.Fprintln(out)
			p.section("Configuration")
			p.check(preflight.StoreSummary(cfg), statusInfo)
			p.check(preflight.NotificationsSummary(cfg), statusInfo)
			p.line("Artifacts", statusInfo, cfg.Paths.ArtifactDir)
			fmt.Fprintln(out)
			p.section("Queue")
			rows := buildStatRows(status.Workflow.QueueStats)
			printTable(out, []string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
			return nil
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

// collectStatus asks the daemon for its status and falls back to reading the
// queue directly when the daemon is not running.
func collectStatus(cmdCtx context.Context, ctx *commandContext) (*api.DaemonStatus, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(cmdCtx, 3*time.Second)
	defer cancel()
	status, err := daemonctl.New(cfg).Status(queryCtx)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		return nil, err
	}

	offline := &api.DaemonStatus{
		QueueDBPath:  cfg.QueueDBPath(),
		LockFilePath: cfg.LockFilePath(),
		StoreBackend: cfg.Store.Backend,
	}
	err = ctx.withApp(func(a *app.App) error {
		summary, err := a.Manager.Status(cmdCtx)
		if err != nil {
			return err
		}
		locks, err := a.Locks.List(cmdCtx)
		if err != nil {
			return err
		}
		offline.Workflow = api.FromStatusSummary(summary)
		offline.ActiveLocks = len(locks)
		return nil
	})
	return offline, err
}

func renderDaemonStatus(p statusPrinter, status *api.DaemonStatus) {
	p.section("Daemon")
	if status.Running {
		p.line("Daemon", statusOK, "Running (pid "+strconv.Itoa(status.PID)+")")
	} else {
		p.line("Daemon", statusWarn, "Not running")
	}
	p.line("Queue database", statusInfo, status.QueueDBPath)
	p.line("Active locks", statusInfo, strconv.Itoa(status.ActiveLocks))
	if tick := status.Workflow.LastTick; tick != nil {
		p.line("Last tick", statusInfo, fmt.Sprintf("%s: %d processed, %d completed, %d failed", tick.StartedAt, tick.Processed, tick.Completed, tick.Failed))
	}
	if status.Workflow.LastError != "" {
		p.line("Last error", statusError, status.Workflow.LastError)
	}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return exe, nil
}
