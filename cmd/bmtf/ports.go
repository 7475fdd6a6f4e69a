package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/bmtf/internal/serial"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports usable as board consoles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serial.ListPorts()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(out, "no serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Fprintln(out, p.Label())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
