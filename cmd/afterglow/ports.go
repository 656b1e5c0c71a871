// cmd/afterglow/ports.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"afterglow/internal/serial"
)

// listPorts is swapped in tests
var listPorts = serial.ListPorts

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List the serial devices afterglow can write to.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := listPorts()
			if err != nil {
				return err
			}
			defaultPath, err := serial.DefaultPath(ports)
			if err != nil {
				return err
			}

			for _, p := range ports {
				marker := " "
				if p.Path == defaultPath {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, p.Description())
			}
			return nil
		},
	}
}
