// MQTT Connector
//
// This is the main entry point of the connector. It keeps a connection to
// an MQTT broker alive, forwards event and response messages into a queue,
// tracks the devices it hears from and exposes a small HTTP API.
//
// Subcommands:
//
//	mqttconnector [serve]   run the connector (default)
//	mqttconnector publish   publish one message and exit
//	mqttconnector version   print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. Running the root command
// without a subcommand is the same as "serve".
func newRootCommand() *cobra.Command {
	var configPath string

	serve := func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), configPath)
	}

	root := &cobra.Command{
		Use:           "mqttconnector",
		Short:         "Bridge an MQTT broker to a message queue",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $MQTT_CONNECTOR_CONFIG or configs/config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:           "serve",
			Short:         "Run the connector until interrupted",
			SilenceErrors: true,
			SilenceUsage:  true,
			RunE:          serve,
		},
		newPublishCommand(&configPath),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mqttconnector %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
