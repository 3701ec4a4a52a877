package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the driver",
	Long: `Ask the daemon to tear the current session down and negotiate a new one
with the master. The restart runs between two cycles.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestart(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

// runRestart holds the command logic so it can be tested with a mock client.
func runRestart(ctx context.Context, client Client, out io.Writer) error {
	if err := client.Restart(ctx); err != nil {
		return fmt.Errorf("failed to restart: %w", err)
	}
	fmt.Fprintln(out, "✓ Driver restart requested")
	return nil
}
