package main

import (
	"context"
	"fmt"
	"os"

	"github.com/apphub/backend/internal/config"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apphub",
		Short: "apphub: local task hub for RunningHub workapps",
		Long:  "apphub queues workapp runs against the RunningHub open API, tracks them to completion and keeps their outputs in a local gallery.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", defaultConfigPath(), "config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSuperviseCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newTemplatesCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("apphub %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

func defaultConfigPath() string {
	configPath := "config/config.yaml"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if _, err := os.Stat("../config/config.yaml"); err == nil {
			configPath = "../config/config.yaml"
		}
	}
	return configPath
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
