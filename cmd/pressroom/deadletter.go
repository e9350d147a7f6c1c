package main

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newDeadLetterCommand(cli *cliContext) *cobra.Command {
	dlq := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and requeue dead-lettered messages",
	}
	dlq.AddCommand(
		newDeadLetterListCommand(cli),
		newDeadLetterRequeueCommand(cli),
	)
	return dlq
}

func newDeadLetterListCommand(cli *cliContext) *cobra.Command {
	var (
		queueName string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := cli.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.DeadLetters(cmd.Context(), queueName, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no dead letters")
				return nil
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Queue", "Job", "Stage", "Attempts", "Archived", "Reason"})
			for _, entry := range entries {
				tw.AppendRow(table.Row{
					entry.ID,
					entry.QueueName,
					entry.JobID,
					stageLabel(entry.Stage),
					entry.AttemptCountAtFailure,
					formatTimestamp(entry.ArchivedAt),
					truncateText(entry.Reason, 60),
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "filter by queue")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show (0 for all)")
	return cmd
}

func newDeadLetterRequeueCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Requeue a dead letter, resetting the stage's attempt history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid dead letter id %q", args[0])
			}

			store, _, err := cli.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			msg, err := store.RequeueDeadLetter(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("requeued job %s on queue %s (message %s)\n", msg.JobID, msg.QueueName, msg.MsgID)
			return nil
		},
	}
}
