package main

import (
	"fmt"
	"os"

	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/logger"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var Version = "dev"

type cliState struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	state := &cliState{}

	root := &cobra.Command{
		Use:           "incidentctl",
		Short:         "Run the incident pipeline over log files",
		Long:          `incidentctl parses log files, derives remediation issues and produces a runbook, tickets and a chat notification.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(state.configPath)
			if err != nil {
				return err
			}
			logger.Initialize(cfg.Logging)
			logger.SetOutput(cmd.ErrOrStderr())
			state.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&state.configPath, "config", "", "path to a YAML config file")

	root.AddCommand(newRunCmd(state))
	root.AddCommand(newWatchCmd(state))
	root.AddCommand(newHistoryCmd(state))
	root.AddCommand(newSamplesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
