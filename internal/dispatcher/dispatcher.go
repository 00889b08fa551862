// Package dispatcher implements the daemon's per-connection IPC handler:
// it reads one framed ClientCommand, routes it to an adapter-wide
// operation or to the right actor, and writes back one framed
// DaemonResponse before closing the connection.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/mitchd/internal/actor"
	"github.com/srg/mitchd/internal/bledevice"
	"github.com/srg/mitchd/internal/mitch"
	"github.com/srg/mitchd/internal/protocol"
	"github.com/srg/mitchd/internal/registry"
	"github.com/srg/mitchd/pkg/config"
)

// statusReplyTimeout bounds how long the Status fan-out waits for any one
// actor's reply before giving up on it; dropped replies are simply
// excluded from the result.
const statusReplyTimeout = 3 * time.Second

// FrameReaderWriter is the minimal per-connection transport the dispatcher
// needs: something protocol.ReadFrame/WriteFrame can operate on. net.Conn
// satisfies it; tests can substitute an in-memory pipe.
type FrameReaderWriter interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Dispatcher is constructed once per daemon and shared (read-only, after
// construction) by every per-connection handler goroutine.
type Dispatcher struct {
	adapter  bledevice.Adapter
	registry *registry.Registry[actor.Command]
	cfg      *config.Config
	logger   *logrus.Logger
}

// New constructs a Dispatcher bound to one BLE adapter, the daemon's
// shared device registry, and its configuration.
func New(adapter bledevice.Adapter, reg *registry.Registry[actor.Command], cfg *config.Config, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{adapter: adapter, registry: reg, cfg: cfg, logger: logger}
}

// HandleConn services exactly one request/reply cycle on conn: read one
// frame, dispatch, write one frame. It does not close conn; the caller
// does. Connection-local errors
// (malformed frame, bad JSON) terminate only this connection; they never
// propagate to the accept loop.
func (d *Dispatcher) HandleConn(ctx context.Context, conn FrameReaderWriter) {
	var cmd protocol.ClientCommand
	if err := protocol.ReadFrame(conn, &cmd); err != nil {
		d.logger.WithError(err).Warn("dispatcher: failed to read command frame")
		return
	}

	resp := d.route(ctx, cmd)

	if err := protocol.WriteFrame(conn, resp); err != nil {
		d.logger.WithError(err).Warn("dispatcher: failed to write response frame")
	}
}

func (d *Dispatcher) route(ctx context.Context, cmd protocol.ClientCommand) protocol.DaemonResponse {
	switch {
	case cmd.Scan != nil:
		return d.handleScan(ctx, cmd.Scan.TimeoutMS)
	case cmd.Status:
		return d.handleStatus()
	case cmd.Connect != nil:
		return d.handleConnect(ctx, cmd.Connect.Name)
	case cmd.Disconnect != nil:
		return d.handleDisconnect(cmd.Disconnect.Name)
	case cmd.Record != nil:
		return d.handleRecord(cmd.Record.Name)
	default:
		return protocol.DaemonResponse{Error: "bad command: no variant set"}
	}
}

// handleScan discovers for timeoutMS, then reports every observed
// mitch-prefixed name, deduplicated, in first-seen order.
func (d *Dispatcher) handleScan(ctx context.Context, timeoutMS uint64) protocol.DaemonResponse {
	scanCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	seen := make(map[string]struct{})
	var names []string
	err := d.adapter.Scan(scanCtx, func(adv bledevice.Advertisement) {
		name := adv.LocalName()
		if !mitch.IsMitchName(name) {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return protocol.DaemonResponse{Error: err.Error()}
	}
	if names == nil {
		names = []string{}
	}
	return protocol.DaemonResponse{Devices: names}
}

// handleConnect implements the Connect verb and its "shutdown first"
// duplicate-connect policy.
func (d *Dispatcher) handleConnect(ctx context.Context, name string) protocol.DaemonResponse {
	address, err := d.discoverAddress(ctx, name)
	if err != nil {
		return protocol.DaemonResponse{Error: fmt.Sprintf("%s not found", name)}
	}

	if existing, ok := d.registry.Get(name); ok {
		d.shutdownExisting(ctx, name, existing)
	}

	dial := actor.NewDialer(d.adapter, address, bledevice.LinkParams(d.cfg.Link), d.logger)
	cmdCh, err := actor.Spawn(ctx, name, dial, d.registry, d.cfg.Frame, d.logger)
	if err != nil {
		return protocol.DaemonResponse{Error: err.Error()}
	}
	d.registry.Insert(name, cmdCh)
	return protocol.DaemonResponse{Ok: true}
}

// discoverAddress runs a bounded discovery window looking for an exact
// advertised-name match.
func (d *Dispatcher) discoverAddress(ctx context.Context, name string) (string, error) {
	scanCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectDiscoveryWindow)
	defer cancel()

	found := make(chan string, 1)
	err := d.adapter.Scan(scanCtx, func(adv bledevice.Advertisement) {
		if adv.LocalName() != name {
			return
		}
		select {
		case found <- adv.Address():
		default:
		}
		cancel()
	})

	select {
	case addr := <-found:
		return addr, nil
	default:
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	return "", bledevice.ErrNotFound
}

// shutdownExisting signals Shutdown to a replaced actor's sender and waits
// up to Config.ShutdownGrace for its self-removal from the registry,
// since the actor - not the dispatcher - owns entry removal. On grace
// expiry it logs and proceeds anyway: Connect must not block a client
// indefinitely on a wedged actor.
func (d *Dispatcher) shutdownExisting(ctx context.Context, name string, sender chan<- actor.Command) {
	gctx, cancel := context.WithTimeout(ctx, d.cfg.ShutdownGrace)
	defer cancel()

	select {
	case sender <- actor.Shutdown{}:
	case <-gctx.Done():
		d.logger.WithField("device", name).Warn("dispatcher: timed out signalling shutdown to existing actor")
		return
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, ok := d.registry.Get(name); !ok {
			return
		}
		select {
		case <-gctx.Done():
			d.logger.WithField("device", name).Warn("dispatcher: shutdown grace period expired, proceeding with connect anyway")
			return
		case <-ticker.C:
		}
	}
}

// handleDisconnect implements the Disconnect verb.
func (d *Dispatcher) handleDisconnect(name string) protocol.DaemonResponse {
	sender, ok := d.registry.Remove(name)
	if !ok {
		return protocol.DaemonResponse{Error: "Device not connected"}
	}
	select {
	case sender <- actor.Shutdown{}:
	default:
	}
	return protocol.DaemonResponse{Ok: true}
}

// handleRecord implements the Record verb: the reply is Ok as soon as the
// command is accepted onto the actor's channel, not after streaming
// actually begins.
func (d *Dispatcher) handleRecord(name string) protocol.DaemonResponse {
	sender, ok := d.registry.Get(name)
	if !ok {
		return protocol.DaemonResponse{Error: "Device not connected"}
	}
	sender <- actor.StartRecording{LSLStreamName: name}
	return protocol.DaemonResponse{Ok: true}
}

// handleStatus implements the Status fan-out: snapshot the registry, send
// one StatusRequest per entry sequentially (never holding the registry
// lock while doing so - Snapshot already released it), then await every
// reply concurrently. Replies that never arrive (actor died, or its
// command channel was already full) are simply excluded.
func (d *Dispatcher) handleStatus() protocol.DaemonResponse {
	entries := d.registry.Snapshot()

	type pending struct {
		name  string
		reply chan actor.DeviceStatus
	}
	var pendings []pending
	for _, e := range entries {
		reply := make(chan actor.DeviceStatus, 1)
		select {
		case e.Sender <- actor.StatusRequest{Reply: reply}:
			pendings = append(pendings, pending{name: e.Name, reply: reply})
		default:
			d.logger.WithField("device", e.Name).Warn("dispatcher: actor command channel full, skipping status request")
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make([]protocol.DeviceStatusEntry, 0, len(pendings))
	for _, p := range pendings {
		wg.Add(1)
		go func(p pending) {
			defer wg.Done()
			select {
			case status := <-p.reply:
				mu.Lock()
				results = append(results, protocol.DeviceStatusEntry{Name: status.Name, Power: status.Power})
				mu.Unlock()
			case <-time.After(statusReplyTimeout):
				d.logger.WithField("device", p.name).Warn("dispatcher: status reply timed out")
			}
		}(p)
	}
	wg.Wait()

	return protocol.DaemonResponse{Status: results}
}
