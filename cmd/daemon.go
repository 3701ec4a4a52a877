package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/netslave/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run netslave daemon in foreground",
	Long: `Run the netslave daemon process in foreground.

The daemon will:
  1. Load configuration from config file
  2. Initialize logging and metrics
  3. Start UDS server for CLI control
  4. Negotiate a session with the master and allocate ports
  5. Run the network cycle until stopped
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and restart (SIGHUP)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file from config)")
}

func runDaemon() error {
	socket := ""
	if rootCmd.PersistentFlags().Changed("socket") {
		socket = socketPath
	}
	d, err := daemon.New(configFile, socket, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	return d.Run(context.Background())
}
