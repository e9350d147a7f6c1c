package main

import (
	"github.com/spf13/cobra"

	"pressroom/internal/config"
	"pressroom/internal/queue"
)

type cliContext struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	cli := &cliContext{}

	root := &cobra.Command{
		Use:           "pressroom",
		Short:         "Inspect and manage the pressroom job pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cli.configPath, "config", "", "path to config file")

	root.AddCommand(
		newStatusCommand(cli),
		newJobsCommand(cli),
		newQueueCommand(cli),
		newDeadLetterCommand(cli),
		newConfigCommand(cli),
	)
	return root
}

func (c *cliContext) loadConfig() (*config.Config, string, error) {
	return config.Load(c.configPath)
}

// openStore opens the shared database; the daemon may be running, WAL mode
// keeps the CLI's reads and occasional writes safe alongside it.
func (c *cliContext) openStore() (*queue.Store, *config.Config, error) {
	cfg, _, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}
