// cmd/afterglow/main.go
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"afterglow/internal/config"
)

// reportedError is a failure the application already logged
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Panic: %v\n", err)
		}
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "afterglow",
		Short: "Relay JSON channel commands from TCP clients to a serial device.",
		Long: `afterglow accepts TCP clients sending {"channel":..,"value":..} ` +
			`messages and writes each one to a serial device as "<channel>c<value>w".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "afterglow v%s\n", cfg.App.Version)
				return nil
			}

			assumeYes, _ := cmd.Flags().GetBool("yes")
			app, err := NewApplication(cmd.Context(), cfg, assumeYes)
			if err != nil {
				return err
			}
			return app.Start(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.BoolP("version", "v", false, "Output the version number")
	flags.BoolP("yes", "y", false, "Skip the device listing and use the default values")
	flags.BoolP("quiet", "q", false, "Only print warnings and panics")
	flags.String("config", "", "Config file (default ./afterglow.yaml)")
	flags.String("host", "127.0.0.1", "Hostname the relay listens on")
	flags.Int("port", 34254, "Port the relay listens on")
	flags.String("serial", "", "Serial device path (default: first detected device)")
	flags.Int("baud", 9600, "Baud rate of the serial device")

	cmd.AddCommand(newPortsCmd())
	return cmd
}
