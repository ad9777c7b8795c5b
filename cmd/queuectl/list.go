package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"queuectl/internal/app"
	"queuectl/internal/models"
)

func listCmd() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in a given state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := models.ParseJobState(state)
			if err != nil {
				return err
			}

			return withApp(cmd, func(a *app.App) error {
				jobs, err := a.Jobs.ListByState(cmd.Context(), st)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "no %s jobs\n", st)
					return nil
				}
				printJobs(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&state, "state", string(models.StatePending), "pending, processing, completed, failed or dead")
	return cmd
}

func printJobs(w io.Writer, jobs []*models.Job) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tATTEMPTS\tMAX RETRIES\tUPDATED\tCOMMAND")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			job.ID,
			job.State,
			job.Attempts,
			job.MaxRetries,
			job.UpdatedAt.Format(time.RFC3339),
			job.Command,
		)
	}
	tw.Flush()
}
