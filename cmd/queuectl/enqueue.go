package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"queuectl/internal/app"
	"queuectl/internal/models"
)

func enqueueCmd() *cobra.Command {
	var (
		maxRetries int
		autoID     bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue <id> <command...> | enqueue '<json>'",
		Short: "Add a job to the queue",
		Long: `Add a job to the queue.

The job is given either as an id followed by the command, or as one JSON
argument: {"id":"job1","command":"sleep 2","max_retries":3}. With --auto-id
every argument is part of the command and a random id is generated.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseEnqueueArgs(args, autoID)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &maxRetries
			}

			return withApp(cmd, func(a *app.App) error {
				job, err := a.Jobs.Enqueue(cmd.Context(), req, "cli")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (max retries %d)\n", job.ID, job.MaxRetries)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retries before the job is moved to the dead letter queue (default from config)")
	cmd.Flags().BoolVar(&autoID, "auto-id", false, "generate the job id; all arguments form the command")
	return cmd
}

func parseEnqueueArgs(args []string, autoID bool) (*models.CreateJobRequest, error) {
	if len(args) == 1 && strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
		var req models.CreateJobRequest
		if err := json.Unmarshal([]byte(args[0]), &req); err != nil {
			return nil, fmt.Errorf("invalid job JSON: %w", err)
		}
		if req.ID == "" && autoID {
			req.ID = uuid.New().String()
		}
		return &req, nil
	}

	if autoID {
		return &models.CreateJobRequest{
			ID:      uuid.New().String(),
			Command: strings.Join(args, " "),
		}, nil
	}

	if len(args) < 2 {
		return nil, errors.New("expected <id> <command...>, a JSON job, or --auto-id")
	}
	return &models.CreateJobRequest{
		ID:      args[0],
		Command: strings.Join(args[1:], " "),
	}, nil
}
