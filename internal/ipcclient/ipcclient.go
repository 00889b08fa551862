// Package ipcclient implements the thin-client half of the daemon's IPC
// protocol: dial the Unix socket, write one framed ClientCommand, half-close
// the write side to signal end-of-request, then read exactly one framed
// DaemonResponse.
package ipcclient

import (
	"context"
	"fmt"
	"net"

	"github.com/srg/mitchd/internal/protocol"
)

// halfCloser is the subset of *net.UnixConn this package needs: a
// net.Conn that can also close its write half.
type halfCloser interface {
	net.Conn
	CloseWrite() error
}

// Do sends cmd to the daemon listening on socketPath and returns its
// reply. Exactly one request and one reply are exchanged per connection.
func Do(ctx context.Context, socketPath string, cmd protocol.ClientCommand) (protocol.DaemonResponse, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return protocol.DaemonResponse{}, fmt.Errorf("ipcclient: dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	hc, ok := conn.(halfCloser)
	if !ok {
		return protocol.DaemonResponse{}, fmt.Errorf("ipcclient: connection does not support half-close")
	}

	if err := protocol.WriteFrame(hc, cmd); err != nil {
		return protocol.DaemonResponse{}, fmt.Errorf("ipcclient: write request: %w", err)
	}
	if err := hc.CloseWrite(); err != nil {
		return protocol.DaemonResponse{}, fmt.Errorf("ipcclient: half-close: %w", err)
	}

	var resp protocol.DaemonResponse
	if err := protocol.ReadFrame(hc, &resp); err != nil {
		return protocol.DaemonResponse{}, fmt.Errorf("ipcclient: read response: %w", err)
	}
	return resp, nil
}
