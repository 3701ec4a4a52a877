package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the netslave daemon",
	Long: `Stop the netslave daemon gracefully.

This command sends daemon_shutdown to the running daemon via Unix Domain Socket.
The daemon unregisters its ports, closes the link and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

func runStop(ctx context.Context, client Client, out io.Writer) error {
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("daemon is not running or socket is inaccessible: %w", err)
	}
	if err := client.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Fprintln(out, "✓ Daemon is shutting down")
	return nil
}
