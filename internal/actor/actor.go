// Package actor implements the per-device supervisor: a goroutine that
// owns one BLE peripheral and its optional LSL outlet for the device's
// entire connected lifetime, multiplexing an inbound command channel
// against the peripheral's notification/connection-event stream.
package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/mitchd/internal/bledevice"
	"github.com/srg/mitchd/internal/groutine"
	"github.com/srg/mitchd/internal/lsl"
	"github.com/srg/mitchd/internal/mitch"
	"github.com/srg/mitchd/internal/registry"
	"github.com/srg/mitchd/pkg/config"
)

// CommandChanCapacity is the bounded capacity every actor command channel
// is created with.
const CommandChanCapacity = 32

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 5 * time.Second
)

// OutletFactory constructs the LSL outlet a StartRecording transition
// attaches to the actor. A package variable, mirroring goble.DeviceFactory,
// so tests can substitute a factory that hands back an inspectable outlet.
var OutletFactory = lsl.NewOutlet

// Command is the sum type of messages sent to an actor.
type Command interface {
	isCommand()
}

// StartRecording requests the actor begin streaming to an LSL outlet named
// lslStreamName.
type StartRecording struct {
	LSLStreamName string
}

// StatusRequest asks the actor for its current power/health byte. Reply is
// a one-shot, buffer-1 channel; the actor never blocks sending to it, and
// a caller that stops listening (e.g. after its own timeout) is harmless.
type StatusRequest struct {
	Reply chan<- DeviceStatus
}

// Shutdown asks the actor to terminate gracefully.
type Shutdown struct{}

func (StartRecording) isCommand() {}
func (StatusRequest) isCommand()  {}
func (Shutdown) isCommand()       {}

// DeviceStatus is the reply to a StatusRequest.
type DeviceStatus struct {
	Name  string
	Power uint8
}

// Dialer performs a full connect: dial the peripheral, best-effort upgrade
// its link parameters, and resolve the two frozen mitch characteristics.
// Spawn calls it once at startup; the disconnect branch calls it again for
// the single reconnect attempt.
type Dialer func(ctx context.Context) (bledevice.Peripheral, bledevice.Characteristic, bledevice.Characteristic, error)

// NewDialer builds a Dialer over an already-resolved BLE address, bound to
// one adapter and one link-parameter upgrade policy.
func NewDialer(adapter bledevice.Adapter, address string, link bledevice.LinkParams, logger *logrus.Logger) Dialer {
	return func(ctx context.Context) (bledevice.Peripheral, bledevice.Characteristic, bledevice.Characteristic, error) {
		p, err := adapter.Dial(ctx, address)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect: %w", err)
		}

		if err := p.UpgradeLinkParams(link); err != nil {
			logger.WithFields(logrus.Fields{"address": address, "error": err}).
				Warn("actor: link parameter upgrade failed, continuing at default parameters")
		}

		cmdChar, err := p.ResolveCharacteristic(mitch.CommandCharUUID)
		if err != nil {
			_ = p.Disconnect()
			return nil, nil, nil, fmt.Errorf("resolve command characteristic: %w", err)
		}
		dataChar, err := p.ResolveCharacteristic(mitch.DataCharUUID)
		if err != nil {
			_ = p.Disconnect()
			return nil, nil, nil, fmt.Errorf("resolve data characteristic: %w", err)
		}
		return p, cmdChar, dataChar, nil
	}
}

// ReconnectPolicy governs what happens when a peripheral reports a
// disconnect mid-session. Spawn always installs SingleAttempt ("exactly
// one immediate attempt"); the actor's policy field is unexported and no
// caller outside this package can install a different policy.
type ReconnectPolicy interface {
	Reconnect(ctx context.Context, dial Dialer) (bledevice.Peripheral, bledevice.Characteristic, bledevice.Characteristic, error)
}

// SingleAttempt is the frozen reconnect policy: call dial exactly once.
type SingleAttempt struct{}

func (SingleAttempt) Reconnect(ctx context.Context, dial Dialer) (bledevice.Peripheral, bledevice.Characteristic, bledevice.Characteristic, error) {
	return dial(ctx)
}

// Actor is the per-device supervisor. All fields are owned exclusively by
// the goroutine running Run; nothing outside this package ever touches
// them, and the actor never shares its BLE handles with any other task.
type Actor struct {
	name string

	peripheral bledevice.Peripheral
	cmdChar    bledevice.Characteristic
	dataChar   bledevice.Characteristic
	dataUUID   string
	outlet     lsl.Outlet

	dial      Dialer
	reconnect ReconnectPolicy
	frame     config.FrameLayout
	registry  *registry.Registry[Command]
	logger    *logrus.Logger
}

// Spawn performs actor startup: dial once, resolve the command/data
// characteristics via dial, and launch the goroutine. On failure it
// returns an error and never touches the registry - the caller (the IPC
// dispatcher) is responsible for not inserting a sender for a device
// whose actor failed to start.
func Spawn(ctx context.Context, name string, dial Dialer, reg *registry.Registry[Command], frame config.FrameLayout, logger *logrus.Logger) (chan<- Command, error) {
	p, cmdChar, dataChar, err := dial(ctx)
	if err != nil {
		return nil, err
	}

	a := &Actor{
		name:       name,
		peripheral: p,
		cmdChar:    cmdChar,
		dataChar:   dataChar,
		dataUUID:   mitch.DataCharUUID,
		dial:       dial,
		reconnect:  SingleAttempt{},
		frame:      frame,
		registry:   reg,
		logger:     logger,
	}

	cmdCh := make(chan Command, CommandChanCapacity)
	logger.WithFields(logrus.Fields{"device": name, "component": "actor"}).Info("actor: spawned")
	groutine.Go(ctx, "actor-"+name, func(ctx context.Context) {
		a.run(ctx, cmdCh)
	})
	return cmdCh, nil
}

func (a *Actor) fields() logrus.Fields {
	return logrus.Fields{"device": a.name, "component": "actor"}
}

// run is the main loop: it cooperatively services exactly one of two
// sources per iteration, the inbound command channel or the peripheral's
// event stream, until one tells it to exit.
func (a *Actor) run(ctx context.Context, cmdCh chan Command) {
	defer a.cleanup()

	for {
		select {
		case cmd, ok := <-cmdCh:
			if !ok {
				a.logger.WithFields(a.fields()).Info("actor: command channel closed, exiting")
				return
			}
			if a.handleCommand(cmd) {
				return
			}

		case ev, ok := <-a.peripheral.Events():
			if !ok {
				a.logger.WithFields(a.fields()).Info("actor: event stream closed, exiting")
				return
			}
			a.handleEvent(ctx, ev)
		}
	}
}

// handleCommand applies one DeviceCommand transition and reports whether
// the actor should exit its main loop.
func (a *Actor) handleCommand(cmd Command) (shutdown bool) {
	switch c := cmd.(type) {
	case StartRecording:
		a.startRecording(c.LSLStreamName)
	case StatusRequest:
		a.handleStatus(c.Reply)
	case Shutdown:
		a.logger.WithFields(a.fields()).Info("actor: shutdown requested")
		return true
	}
	return false
}

func (a *Actor) startRecording(lslStreamName string) {
	spec := lsl.PressureOutletSpec(lslStreamName)
	outlet := OutletFactory(spec)

	if err := a.cmdChar.WriteWithResponse(mitch.StartPressureStream.Bytes(), writeTimeout); err != nil {
		a.logger.WithFields(a.fields()).WithError(err).Error("actor: failed to write StartPressureStream")
		_ = outlet.Close()
		return
	}
	// Drain the command characteristic's acknowledgement.
	if _, err := a.cmdChar.Read(readTimeout); err != nil {
		a.logger.WithFields(a.fields()).WithError(err).Warn("actor: ack drain after StartPressureStream failed")
	}
	if err := a.dataChar.EnableNotifications(); err != nil {
		a.logger.WithFields(a.fields()).WithError(err).Error("actor: failed to enable notifications on data characteristic")
		_ = outlet.Close()
		return
	}

	a.outlet = outlet
	a.logger.WithFields(a.fields()).WithField("lsl_stream", lslStreamName).Info("actor: streaming started")
}

func (a *Actor) handleStatus(reply chan<- DeviceStatus) {
	if err := a.cmdChar.WriteWithResponse(mitch.GetPower.Bytes(), writeTimeout); err != nil {
		a.logger.WithFields(a.fields()).WithError(err).Warn("actor: failed to write GetPower")
		return
	}
	data, err := a.cmdChar.Read(readTimeout)
	if err != nil {
		a.logger.WithFields(a.fields()).WithError(err).Warn("actor: failed to read GetPower response")
		return
	}
	if len(data) < 5 {
		a.logger.WithFields(a.fields()).WithField("len", len(data)).Warn("actor: GetPower response too short")
		return
	}

	status := DeviceStatus{Name: a.name, Power: data[4]}
	// Best-effort: the caller may have stopped listening (timed out).
	select {
	case reply <- status:
	default:
	}
}

func (a *Actor) handleEvent(ctx context.Context, ev bledevice.DeviceEvent) {
	switch ev.Kind {
	case bledevice.EventNotification:
		if ev.CharUUID != a.dataUUID || a.outlet == nil {
			return
		}
		a.pushSample(ev.Value)

	case bledevice.EventDisconnected:
		a.handleDisconnect(ctx)
	}
}

// pushSample decodes one notification payload into a single LSL sample,
// per the configured frame layout: discard FrameLayout.HeaderLen leading
// bytes, then widen each of the next FrameLayout.ChannelCount bytes into
// one zero-extended Int16 channel value.
func (a *Actor) pushSample(payload []byte) {
	if len(payload) < a.frame.MinFrameLen() {
		a.logger.WithFields(a.fields()).WithFields(logrus.Fields{
			"len":      len(payload),
			"required": a.frame.MinFrameLen(),
		}).Warn("actor: dropping short notification frame")
		return
	}

	sample := make([]int16, a.frame.ChannelCount)
	for i := 0; i < a.frame.ChannelCount; i++ {
		sample[i] = int16(payload[a.frame.HeaderLen+i])
	}
	if err := a.outlet.PushSample(sample); err != nil {
		a.logger.WithFields(a.fields()).WithError(err).Warn("actor: failed to push sample to outlet")
	}
}

// handleDisconnect attempts exactly one reconnect; if it succeeds and the
// outlet was present (we were streaming), re-arm the stream; on failure,
// log and keep running - the actor does not exit just because one
// reconnect attempt failed.
func (a *Actor) handleDisconnect(ctx context.Context) {
	a.logger.WithFields(a.fields()).Warn("actor: device disconnected, attempting reconnect")

	p, cmdChar, dataChar, err := a.reconnect.Reconnect(ctx, a.dial)
	if err != nil {
		a.logger.WithFields(a.fields()).WithError(err).Warn("actor: reconnect failed, device remains offline")
		return
	}

	a.peripheral = p
	a.cmdChar = cmdChar
	a.dataChar = dataChar
	a.logger.WithFields(a.fields()).Info("actor: reconnected")

	if a.outlet == nil {
		return
	}

	if err := a.cmdChar.WriteWithResponse(mitch.StartPressureStream.Bytes(), writeTimeout); err != nil {
		a.logger.WithFields(a.fields()).WithError(err).Error("actor: failed to re-issue StartPressureStream after reconnect")
		return
	}
	if _, err := a.cmdChar.Read(readTimeout); err != nil {
		a.logger.WithFields(a.fields()).WithError(err).Warn("actor: ack drain after reconnect StartPressureStream failed")
	}
	if err := a.dataChar.EnableNotifications(); err != nil {
		a.logger.WithFields(a.fields()).WithError(err).Error("actor: failed to re-enable notifications after reconnect")
	}
}

// cleanup is the cleanup prologue: total, idempotent, and run on every
// exit path via the defer in run. No early return, no panic propagation
// across this boundary.
func (a *Actor) cleanup() {
	a.logger.WithFields(a.fields()).Info("actor: cleaning up")

	if a.peripheral != nil {
		if err := a.peripheral.Disconnect(); err != nil {
			a.logger.WithFields(a.fields()).WithError(err).Warn("actor: disconnect during cleanup failed")
		}
	}

	a.registry.Remove(a.name)

	if a.outlet != nil {
		_ = a.outlet.Close()
		a.outlet = nil
	}

	a.logger.WithFields(a.fields()).Info("actor: shutdown complete")
}
