// Package main provides the flowpulse CLI: live workflow monitoring,
// workflow commands and the reference relay server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/openivr/flowpulse/pkg/config"
	"github.com/openivr/flowpulse/pkg/logging"
)

var (
	// Global flags
	serverURL  string
	token      string
	configPath string

	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flowpulse",
		Short: "FlowPulse CLI",
		Long:  "Live workflow-execution monitoring and commands for the FlowPulse relay",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(executeCmd(), pauseCmd(), resumeCmd(), stopCmd())
	rootCmd.AddCommand(relayCmd(), tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.DefaultConfig()
	}
	cfg = config.FromEnv(cfg)

	if serverURL != "" {
		cfg.Monitor.ServerURL = serverURL
	}
	logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	return nil
}
