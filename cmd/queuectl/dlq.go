package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"queuectl/internal/app"
)

func dlqCmd() *cobra.Command {
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Manage the dead letter queue",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List all dead jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				jobs, err := a.Jobs.ListDeadJobs(cmd.Context())
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "dead letter queue is empty")
					return nil
				}
				printJobs(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}

	retry := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a dead job back to pending with attempts reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				if err := a.Jobs.RequeueDead(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s moved to pending\n", args[0])
				return nil
			})
		},
	}

	dlq.AddCommand(list, retry)
	return dlq
}
