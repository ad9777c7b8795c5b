package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"queuectl/internal/app"
	"queuectl/internal/models"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts per state and the active worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				counts, err := a.Jobs.Stats(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				total := 0
				for _, st := range models.AllStates {
					fmt.Fprintf(tw, "%s\t%d\n", st, counts[st])
					total += counts[st]
				}
				fmt.Fprintf(tw, "total\t%d\n", total)
				tw.Flush()

				ws, err := readWorkerStatus(a.Config.WorkerStatusPath())
				if err != nil {
					return err
				}
				if ws == nil {
					fmt.Fprintln(out, "active workers: 0")
					return nil
				}
				fmt.Fprintf(out, "active workers: %d (pid %d, up %s)\n",
					ws.Workers, ws.PID, time.Since(ws.StartedAt).Round(time.Second))
				return nil
			})
		},
	}
}
