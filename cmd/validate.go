package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netslave/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the daemon, then
print the session request that would be announced to the master.

Examples:
  netslave validate -c /etc/netslave/config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	for _, w := range cfg.Warnings {
		fmt.Fprintf(out, "WARNING: %s\n", w)
	}

	req := cfg.SessionRequest()
	fmt.Fprintf(out, "VALID: client %q, master %s:%d, mtu %d\n",
		req.Name, cfg.Driver.MulticastIP, cfg.Driver.UDPPort, req.MTU)
	fmt.Fprintf(out, "  audio: %s in, %s out; midi: %d in, %d out\n",
		portCount(req.SendAudioChannels), portCount(req.ReturnAudioChannels),
		req.SendMIDIChannels, req.ReturnMIDIChannels)
	fmt.Fprintf(out, "  encoder: %s, mode: %s, transport sync: %t\n",
		req.Encoder, req.NetworkMode, req.TransportSync)
	return nil
}

func portCount(n int) string {
	if n < 0 {
		return "master"
	}
	return fmt.Sprint(n)
}
