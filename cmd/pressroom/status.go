package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"pressroom/internal/queue"
)

func newStatusCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database health, job counts, and queue backlog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := cli.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := cmd.Context()

			health, err := store.CheckHealth(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("database: %s\n", health.DBPath)
			fmt.Printf("readable: %v  integrity: %v\n", health.DatabaseReadable, health.IntegrityCheck)
			fmt.Printf("jobs: %d  messages: %d\n\n", health.TotalJobs, health.TotalMessages)

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Status", "Jobs"})
			for _, status := range queue.AllJobStatuses() {
				tw.AppendRow(table.Row{string(status), stats[status]})
			}
			tw.Render()
			fmt.Println()

			backlog, err := store.Backlog(ctx)
			if err != nil {
				return err
			}
			qt := newTable()
			qt.AppendHeader(table.Row{"Queue", "Ready", "In Flight"})
			for _, entry := range backlog {
				qt.AppendRow(table.Row{entry.QueueName, entry.Ready, entry.InFlight})
			}
			qt.Render()
			return nil
		},
	}
}
