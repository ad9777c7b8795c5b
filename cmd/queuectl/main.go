// Command queuectl is the command-line front end of the job queue.
//
// Subcommands:
//
//	enqueue  add a job (positional id + command, or a JSON object)
//	list     list jobs in a given state
//	status   job counts per state and the running worker pool
//	dlq      list or retry dead jobs
//	config   read or change persistent settings
//	worker   run a worker pool in the foreground, or stop it
package main

import (
	"fmt"
	"log/slog"
	"os"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/spf13/cobra"

	"queuectl/internal/app"
	"queuectl/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "queuectl",
		Short: "A durable shell-command job queue",
		// Errors are printed once by main through slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		enqueueCmd(),
		listCmd(),
		statusCmd(),
		dlqCmd(),
		configCmd(),
		workerCmd(),
	)
	return root
}

// withApp loads configuration, wires the application and runs fn with it.
func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := cfg.NewLogger(cmd.ErrOrStderr())
	slog.SetDefault(logger)

	a, err := app.New(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}
