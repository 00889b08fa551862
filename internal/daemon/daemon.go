// Package daemon implements the long-running process bootstrap: acquire
// the single BLE adapter, unlink any stale IPC socket, bind the listener,
// and spawn a dispatcher handler per accepted connection.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/srg/mitchd/internal/actor"
	"github.com/srg/mitchd/internal/bledevice"
	"github.com/srg/mitchd/internal/dispatcher"
	"github.com/srg/mitchd/internal/groutine"
	"github.com/srg/mitchd/internal/registry"
	"github.com/srg/mitchd/pkg/config"
)

// AdapterFactory constructs the daemon's single BLE adapter. A package
// variable so tests can substitute a fake without touching a real BLE
// controller, mirroring goble.DeviceFactory's test-substitution pattern.
var AdapterFactory func(logger *logrus.Logger) (bledevice.Adapter, error)

// Daemon owns the process-wide registry and listens for IPC connections
// for as long as Run is executing.
type Daemon struct {
	cfg        *config.Config
	logger     *logrus.Logger
	registry   *registry.Registry[actor.Command]
	dispatcher *dispatcher.Dispatcher
	listener   net.Listener
}

// New acquires the BLE adapter and constructs a Daemon ready to Run. It
// does not touch the filesystem yet - the socket is bound inside Run, so
// that New can be used in tests without binding a real path.
func New(cfg *config.Config, logger *logrus.Logger) (*Daemon, error) {
	if AdapterFactory == nil {
		return nil, fmt.Errorf("daemon: no BLE adapter factory configured")
	}

	adapter, err := AdapterFactory(logger)
	if err != nil {
		return nil, fmt.Errorf("daemon: acquire BLE adapter: %w", err)
	}
	logger.Info("daemon: BLE adapter acquired")

	reg := registry.New[actor.Command]()
	disp := dispatcher.New(adapter, reg, cfg, logger)

	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		registry:   reg,
		dispatcher: disp,
	}, nil
}

// Run unlinks any stale socket at cfg.SocketPath, binds the listener, and
// accepts connections until ctx is cancelled or Listener.Accept fails.
// Every accepted connection is handled on its own goroutine.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.logger.Info("daemon: shut down")

	if err := os.RemoveAll(d.cfg.SocketPath); err != nil {
		return fmt.Errorf("daemon: unlink stale socket %s: %w", d.cfg.SocketPath, err)
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: bind socket %s: %w", d.cfg.SocketPath, err)
	}
	d.listener = ln
	d.logger.WithField("socket", d.cfg.SocketPath).Info("daemon: listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("daemon: accept: %w", err)
			}
		}

		groutine.Go(ctx, "ipc-conn", func(connCtx context.Context) {
			defer conn.Close()
			d.dispatcher.HandleConn(connCtx, conn)
		})
	}
}

// Registry exposes the daemon's device registry for tests that want to
// assert on post-scenario state without going through the IPC socket.
func (d *Daemon) Registry() *registry.Registry[actor.Command] {
	return d.registry
}
