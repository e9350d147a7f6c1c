package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newQueueCommand(cli *cliContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect stage queues",
	}
	queueCmd.AddCommand(
		newQueueStatsCommand(cli),
		newQueueListCommand(cli),
	)
	return queueCmd
}

func newQueueStatsCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ready and in-flight counts per queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := cli.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			backlog, err := store.Backlog(cmd.Context())
			if err != nil {
				return err
			}
			if len(backlog) == 0 {
				fmt.Println("all queues empty")
				return nil
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"Queue", "Ready", "In Flight"})
			for _, entry := range backlog {
				tw.AppendRow(table.Row{entry.QueueName, entry.Ready, entry.InFlight})
			}
			tw.Render()
			return nil
		},
	}
}

func newQueueListCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <queue>",
		Short: "List a queue's messages in dequeue order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := cli.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			messages, err := store.Messages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(messages) == 0 {
				fmt.Printf("queue %s is empty\n", args[0])
				return nil
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"Message", "Job", "Priority", "Enqueued", "Visible At", "Deliveries"})
			for _, msg := range messages {
				tw.AppendRow(table.Row{
					msg.MsgID,
					msg.JobID,
					msg.Priority,
					formatTimestamp(msg.EnqueuedAt),
					formatTimestamp(msg.VisibleAt),
					msg.DeliveryCount,
				})
			}
			tw.Render()
			return nil
		},
	}
}
