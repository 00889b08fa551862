// Command mitchctl is the thin CLI client for mitchd: it speaks the
// daemon's IPC protocol over a local Unix domain socket and does nothing
// else.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/srg/mitchd/pkg/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var flagSocketPath string

var rootCmd = &cobra.Command{
	Use:   "mitchctl",
	Short: "Control client for the mitchd BLE sensor daemon",
	Long: `mitchctl talks to a running mitchd daemon over a local Unix domain
socket: scan for mitch sensors, connect/disconnect them, start recording
to LSL, and query device status.`,
	Version: formatVersion(version),
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&flagSocketPath, "socket", config.DefaultConfig().SocketPath, "Unix domain socket path the daemon listens on")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(recordCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}
