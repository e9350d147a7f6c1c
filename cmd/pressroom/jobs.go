package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"pressroom/internal/queue"
)

func newJobsCommand(cli *cliContext) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage pipeline jobs",
	}
	jobs.AddCommand(
		newJobsListCommand(cli),
		newJobsShowCommand(cli),
		newJobsCancelCommand(cli),
		newJobsEventsCommand(cli),
	)
	return jobs
}

func newJobsListCommand(cli *cliContext) *cobra.Command {
	var statusFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := cli.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var statuses []queue.JobStatus
			if statusFilter != "" {
				status, ok := queue.ParseJobStatus(statusFilter)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
				statuses = append(statuses, status)
			}

			jobs, err := store.ListJobs(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Type", "Stage", "Status", "Attempts", "Priority", "Updated"})
			for _, job := range jobs {
				tw.AppendRow(table.Row{
					job.ID,
					job.JobType,
					stageLabel(job.CurrentStage),
					string(job.Status),
					job.AttemptCount,
					job.Priority,
					formatTimestamp(job.UpdatedAt),
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by job status")
	return cmd
}

func newJobsShowCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its stage attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := cli.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := cmd.Context()

			job, err := store.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job %s not found", args[0])
			}

			fmt.Printf("id:       %s\n", job.ID)
			fmt.Printf("type:     %s\n", job.JobType)
			fmt.Printf("stage:    %s\n", stageLabel(job.CurrentStage))
			fmt.Printf("status:   %s\n", job.Status)
			fmt.Printf("priority: %d\n", job.Priority)
			fmt.Printf("created:  %s\n", formatTimestamp(job.CreatedAt))
			fmt.Printf("updated:  %s\n", formatTimestamp(job.UpdatedAt))
			if job.ErrorMessage != "" {
				fmt.Printf("error:    %s\n", job.ErrorMessage)
			}

			attempts, err := store.StageAttempts(ctx, job.ID)
			if err != nil {
				return err
			}
			if len(attempts) == 0 {
				return nil
			}
			fmt.Println()
			tw := newTable()
			tw.AppendHeader(table.Row{"Stage", "Attempt", "Started", "Completed", "Outcome", "Error"})
			for _, attempt := range attempts {
				completed := "-"
				if attempt.CompletedAt != nil {
					completed = formatTimestamp(*attempt.CompletedAt)
				}
				tw.AppendRow(table.Row{
					stageLabel(attempt.Stage),
					attempt.AttemptNumber,
					formatTimestamp(attempt.StartedAt),
					completed,
					attempt.Outcome,
					truncateText(attempt.ErrorMessage, 60),
				})
			}
			tw.Render()
			return nil
		},
	}
}

func newJobsCancelCommand(cli *cliContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := cli.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cancelled, err := store.CancelJob(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			if !cancelled {
				return fmt.Errorf("job %s is not cancellable (missing or already terminal)", args[0])
			}
			fmt.Printf("cancelled %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "cancelled by operator", "reason recorded on the job")
	return cmd
}

func newJobsEventsCommand(cli *cliContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <job-id>",
		Short: "Show a job's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := cli.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.EventsForJob(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("no events")
				return nil
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"Time", "Type", "Stage", "Message"})
			for _, event := range events {
				stage := "-"
				if event.Stage != "" {
					stage = stageLabel(event.Stage)
				}
				tw.AppendRow(table.Row{
					formatTimestamp(event.CreatedAt),
					event.Type,
					stage,
					truncateText(event.Message, 80),
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to show (0 for all)")
	return cmd
}
