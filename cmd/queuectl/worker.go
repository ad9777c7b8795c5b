package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"queuectl/internal/app"
	"queuectl/internal/config"
)

// workerStatus is written next to the database while `worker start` runs so
// other queuectl invocations can report on it.
type workerStatus struct {
	PID       int       `json:"pid"`
	Workers   int       `json:"workers"`
	StartedAt time.Time `json:"started_at"`
}

func workerCmd() *cobra.Command {
	worker := &cobra.Command{
		Use:   "worker",
		Short: "Run or stop the worker pool",
	}

	var count int
	start := &cobra.Command{
		Use:   "start",
		Short: "Run a worker pool in the foreground until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				n := count
				if !cmd.Flags().Changed("count") {
					n = a.Config.Workers
				}
				return runWorkers(cmd, a, n)
			})
		},
	}
	start.Flags().IntVar(&count, "count", 0, "number of concurrent workers (default from QUEUECTL_WORKERS)")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running `worker start` process to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			st, err := readWorkerStatus(cfg.WorkerStatusPath())
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no worker pool is running")
				return nil
			}

			proc, err := os.FindProcess(st.PID)
			if err == nil {
				err = proc.Signal(syscall.Signal(0))
			}
			if err != nil {
				if rmErr := os.Remove(cfg.WorkerStatusPath()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
					return fmt.Errorf("failed to remove stale worker status: %w", rmErr)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "worker process %d is not running, removed stale status file\n", st.PID)
				return nil
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to signal worker process %d: %w", st.PID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent stop signal to worker process %d\n", st.PID)
			return nil
		},
	}

	worker.AddCommand(start, stop)
	return worker
}

func runWorkers(cmd *cobra.Command, a *app.App, n int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Pool.Start(n); err != nil {
		return err
	}

	statusPath := a.Config.WorkerStatusPath()
	if err := a.Config.EnsureDataDir(); err != nil {
		return err
	}
	st := workerStatus{PID: os.Getpid(), Workers: n, StartedAt: time.Now()}
	if err := writeWorkerStatus(statusPath, st); err != nil {
		a.Logger.Warn("failed to write worker status file", "path", statusPath, "error", err)
	}
	defer os.Remove(statusPath)

	a.Logger.Info("workers running, press Ctrl+C to stop", "workers", n)
	<-ctx.Done()

	a.Logger.Info("shutting down workers")
	a.Pool.Stop()
	return nil
}

func writeWorkerStatus(path string, st workerStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// readWorkerStatus returns nil when no worker pool has registered itself.
func readWorkerStatus(path string) (*workerStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read worker status: %w", err)
	}

	var st workerStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse worker status: %w", err)
	}
	return &st, nil
}
