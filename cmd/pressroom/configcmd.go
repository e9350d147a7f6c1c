package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pressroom/internal/config"
)

func newConfigCommand(cli *cliContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the pressroom configuration file",
	}
	configCmd.AddCommand(
		newConfigInitCommand(cli),
		newConfigShowCommand(cli),
	)
	return configCmd
}

func newConfigInitCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a sample config file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path := cli.configPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}

func newConfigShowCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, path, err := cli.loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("config:          %s\n", path)
			fmt.Printf("data_dir:        %s\n", cfg.DataDir)
			fmt.Printf("log_dir:         %s\n", cfg.LogDir)
			fmt.Printf("bind:            %s\n", cfg.Bind)
			fmt.Printf("log_level:       %s\n", cfg.LogLevel)
			fmt.Printf("log_format:      %s\n", cfg.LogFormat)
			fmt.Printf("handler_timeout: %ds\n", cfg.HandlerTimeout)
			fmt.Printf("shutdown_grace:  %ds\n", cfg.ShutdownGrace)
			fmt.Println("[queue]")
			fmt.Printf("  visibility_timeout: %ds\n", cfg.Queue.VisibilityTimeout)
			fmt.Printf("  batch_size:         %d\n", cfg.Queue.BatchSize)
			fmt.Printf("  max_attempts:       %d\n", cfg.Queue.MaxAttempts)
			fmt.Printf("  base_retry_delay:   %ds\n", cfg.Queue.BaseRetryDelay)
			fmt.Printf("  max_retry_delay:    %ds\n", cfg.Queue.MaxRetryDelay)
			for _, p := range cfg.Pipelines {
				fmt.Printf("[pipeline %s]\n", p.JobType)
				fmt.Printf("  stages:           %s\n", strings.Join(p.Stages, " -> "))
				fmt.Printf("  handler_base_url: %s\n", p.HandlerBaseURL)
			}
			return nil
		},
	}
}
