package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/bmtf/internal/board"
	"github.com/buckleypaul/bmtf/internal/config"
)

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List board descriptors and the lab inventory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		registry, err := board.LoadRegistry(cfg.BoardFilesPath)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Descriptors (%s):\n", cfg.BoardFilesPath)
		for _, t := range registry.Types() {
			desc, _ := registry.Get(t)
			methods := strings.Join(desc.Methods(), ", ")
			if desc.Attributes.IPMIManaged {
				methods += " (ipmi)"
			}
			fmt.Fprintf(out, "  %-20s %s\n", t, methods)
		}

		fmt.Fprintln(out, "Inventory:")
		for _, b := range cfg.Boards {
			console := "lab console"
			if b.SerialPort != "" {
				console = b.SerialPort
			}
			fmt.Fprintf(out, "  %-20s %-20s %s\n", b.Name, b.Type, console)
		}
		return cfg.Boards.Validate(registry)
	},
}

func init() {
	rootCmd.AddCommand(boardsCmd)
}
