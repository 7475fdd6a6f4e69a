package main

import (
	"github.com/spf13/cobra"

	"github.com/buckleypaul/bmtf/internal/logging"
)

var (
	rootCmd = &cobra.Command{
		Use:   "bmtf",
		Short: "Board session orchestrator for lab test runs",
		Long: `bmtf reserves lab boards, boots them to a logged-in OS over the
serial console, deploys a test toolkit over ssh, runs the requested tests and
writes JUnit-style reports into a per-run workspace.

Every reserved board is released when its session ends, including on failure
and on SIGINT.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Setup(logLevel)
		},
	}

	// Persistent CLI Flags.
	logLevel   string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (trace,debug,info,warn,error)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Lab configuration file, layered over ~/.config/bmtf/config.yaml")
}
