// Command mitchd is the daemon entrypoint: it holds exclusive ownership of
// the host's BLE adapter, manages mitch sensor connections, and exposes
// them over a local IPC socket and one LSL outlet per recording device.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/mitchd/internal/bledevice"
	"github.com/srg/mitchd/internal/bledevice/goble"
	"github.com/srg/mitchd/internal/daemon"
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

var (
	flagSocketPath string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "mitchd",
	Short: "Background daemon for mitch BLE pressure/accelerometry sensors",
	Long: `mitchd manages one or more wearable "mitch" BLE sensors: it scans,
connects, configures link parameters, issues GATT command/data
characteristic interactions, and fans notification data out to one LSL
outlet per recording device.

A thin client (mitchctl) speaks to this process over a local Unix domain
socket; mitchd itself runs in the foreground until interrupted.`,
	Version: formatVersion(version),
	RunE:    runDaemon,
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.Flags().StringVar(&flagSocketPath, "socket", config.DefaultConfig().SocketPath, "Unix domain socket path to listen on")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %s", flagLogLevel)
	}
	cmd.SilenceUsage = true

	cfg := config.DefaultConfig()
	cfg.SocketPath = flagSocketPath
	cfg.LogLevel = level
	logger := cfg.NewLogger()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("mitchd: received interrupt, shutting down")
		cancel()
	}()

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newDaemon wires the real go-ble adapter factory into daemon.New. Kept as
// a separate function (rather than inline in runDaemon) so the wiring is a
// single, obvious seam.
func newDaemon(cfg *config.Config, logger *logrus.Logger) (*daemon.Daemon, error) {
	daemon.AdapterFactory = func(logger *logrus.Logger) (bledevice.Adapter, error) {
		return goble.NewAdapter(logger)
	}
	return daemon.New(cfg, logger)
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
