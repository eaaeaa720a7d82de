package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"newscast/internal/config"
	"newscast/internal/daemon"
	"newscast/internal/logging"
	"newscast/internal/preflight"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler in the foreground",
		Long: `Run a single newscast daemon. It resumes STALE articles on
daemon.stale_schedule and, when daemon.batch_schedule is set, runs the
queries in daemon.queries_file. Stop it with SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt, err := ctx.ensureApp(signalCtx)
			if err != nil {
				return err
			}
			logger := rt.logger
			pruneLogs(cfg, logger, time.Now())

			for _, failed := range preflight.Failed(preflight.RunAll(signalCtx, cfg, preflight.Options{Ledger: rt.store})) {
				logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
					logging.String("check", failed.Name),
					logging.String("detail", failed.Detail),
					logging.String(logging.FieldImpact, "scheduled work may fail until this is fixed"),
				)
			}

			var batches daemon.BatchRunner
			if cfg.Daemon.BatchSchedule != "" {
				batches = rt.batches
			}
			d, err := daemon.New(cfg, rt.orch, batches, logger)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			if err := d.Start(signalCtx); err != nil {
				return err
			}
			defer d.Stop()

			status := d.Status()
			logger.Info("newscast daemon started",
				logging.String(logging.FieldEventType, "daemon_started"),
				logging.String("lock_path", status.LockFilePath),
				logging.String("stale_schedule", status.StaleSchedule),
				logging.String("next_stale_sweep", formatTime(status.NextStaleSweep)),
				logging.String("batch_schedule", dash(status.BatchSchedule)),
			)

			pidPath := filepath.Join(cfg.Paths.DataDir, "newscast.pid")
			if err := writePIDFile(pidPath); err != nil {
				logger.Warn("failed to write pid file", logging.Error(err))
			}
			defer os.Remove(pidPath)

			<-signalCtx.Done()
			logger.Info("newscast daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
			return nil
		},
	}
}

// pruneLogs drops daily log files past logging.retention_days, keeping the
// file in use today.
func pruneLogs(cfg *config.Config, logger *slog.Logger, now time.Time) int {
	return logging.PruneLogs(logger, cfg.Logging.RetentionDays, now, logging.PruneTarget{
		Dir:     cfg.Paths.LogDir,
		Pattern: logging.LogFilePattern,
		Keep:    []string{filepath.Join(cfg.Paths.LogDir, logging.LogFileName(now))},
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
