package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var statusStats bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show driver status",
	Long: `Query the netslave daemon for the driver status.

Shows: lifecycle state, negotiated session, port count and cycle counters.
With --stats, shows the daemon's runtime counters instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), GetClient(), cmd.OutOrStdout(), statusStats)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusStats, "stats", false, "show daemon counters")
}

func runStatus(ctx context.Context, client Client, out io.Writer, stats bool) error {
	query, what := client.Status, "driver status"
	if stats {
		query, what = client.Stats, "daemon stats"
	}
	result, err := query(ctx)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", what, err)
	}

	resultJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(out, string(resultJSON))
	return nil
}
