// Package goble adapts github.com/go-ble/ble onto the bledevice interfaces:
// the same ble.Dial/DiscoverProfile/Subscribe/ReadCharacteristic/
// WriteCharacteristic call shapes, trimmed to a single daemon-owned
// adapter (no multi-service catalog, no descriptor discovery, no
// per-characteristic subscription manager - the mitch device exposes
// exactly two characteristics and the daemon only ever dials one
// peripheral per actor).
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"github.com/srg/mitchd/internal/bledevice"
	"github.com/srg/mitchd/internal/mitch"
)

// DeviceFactory constructs the platform ble.Device. A package variable so
// tests can substitute a fake without touching HCI.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// bleClient is the narrow slice of ble.Client this package actually calls.
// Declaring it locally (rather than storing ble.Client directly) lets tests
// substitute a fake without implementing go-ble's full client surface.
type bleClient interface {
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, indicate bool, h ble.NotificationHandler) error
	CancelConnection() error
}

// Adapter is the daemon's single ble.Device wrapper.
type Adapter struct {
	dev    ble.Device
	logger *logrus.Logger
}

// NewAdapter opens the platform BLE device and installs it as go-ble's
// default device (required by ble.Dial, which is a package-level function
// bound to whatever device was last set).
func NewAdapter(logger *logrus.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("open ble device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	return &Adapter{dev: dev, logger: logger}, nil
}

func (a *Adapter) Scan(ctx context.Context, handler func(bledevice.Advertisement)) error {
	return a.dev.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(advertisement{adv})
	})
}

func (a *Adapter) Dial(ctx context.Context, address string) (bledevice.Peripheral, error) {
	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cerr := client.CancelConnection(); cerr != nil {
			a.logger.WithField("cancel_error", cerr).Warn("goble: cancel after failed discovery")
		}
		return nil, fmt.Errorf("discover profile for %s: %w", address, err)
	}

	// Resolve the single expected mitch service; characteristics are looked
	// up within it only.
	chars := make(map[string]*ble.Characteristic)
	var found bool
	for _, svc := range profile.Services {
		if normalizeUUID(svc.UUID) != mitch.ServiceUUID {
			continue
		}
		found = true
		for _, c := range svc.Characteristics {
			chars[normalizeUUID(c.UUID)] = c
		}
	}
	if !found {
		if cerr := client.CancelConnection(); cerr != nil {
			a.logger.WithField("cancel_error", cerr).Warn("goble: cancel after missing service")
		}
		return nil, fmt.Errorf("service %s on %s: %w", mitch.ServiceUUID, address, bledevice.ErrNotFound)
	}

	p := &peripheral{
		client: client,
		chars:  chars,
		events: make(chan bledevice.DeviceEvent, 32),
		logger: a.logger.WithField("address", address),
	}
	p.watchDisconnect()
	return p, nil
}

type advertisement struct{ adv ble.Advertisement }

func (a advertisement) LocalName() string { return a.adv.LocalName() }
func (a advertisement) Address() string   { return a.adv.Addr().String() }

// normalizeUUID renders a ble.UUID in the same form the mitch constants
// use: lowercase hex without dashes. ble.UUID.String() already reverses
// go-ble's little-endian storage into canonical order.
func normalizeUUID(u ble.UUID) string {
	return strings.ToLower(u.String())
}

// peripheral implements bledevice.Peripheral over one live ble.Client.
type peripheral struct {
	client bleClient
	chars  map[string]*ble.Characteristic

	mu     sync.Mutex
	closed bool
	events chan bledevice.DeviceEvent
	logger *logrus.Entry
}

func (p *peripheral) UpgradeLinkParams(params bledevice.LinkParams) error {
	type linkUpgrader interface {
		UpdateConnectionParams(min, max, latency, timeout uint16) error
	}
	upgrader, ok := p.client.(linkUpgrader)
	if !ok {
		p.logger.Debug("goble: client does not support link parameter upgrade on this platform")
		return nil
	}
	if err := upgrader.UpdateConnectionParams(params.Min, params.Max, params.Latency, params.Timeout); err != nil {
		p.logger.WithField("error", err).Warn("goble: link parameter upgrade failed, continuing at default parameters")
		return nil
	}
	return nil
}

func (p *peripheral) ResolveCharacteristic(uuid string) (bledevice.Characteristic, error) {
	c, ok := p.chars[uuid]
	if !ok {
		return nil, fmt.Errorf("characteristic %s: %w", uuid, bledevice.ErrNotFound)
	}
	return &characteristic{client: p.client, char: c, parent: p}, nil
}

func (p *peripheral) Events() <-chan bledevice.DeviceEvent { return p.events }

func (p *peripheral) Disconnect() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.client.CancelConnection()
	close(p.events)
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// watchDisconnect probes for a platform-specific Disconnected() channel:
// some go-ble backends expose an unexported-interface disconnect signal,
// others don't. Best effort either way.
func (p *peripheral) watchDisconnect() {
	notifier, ok := p.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		p.logger.Debug("goble: client does not expose a Disconnected() channel on this platform")
		return
	}
	go func() {
		<-notifier.Disconnected()
		p.mu.Lock()
		already := p.closed
		p.closed = true
		p.mu.Unlock()
		if already {
			return
		}
		defer func() { recover() }() // events may already be closed by Disconnect
		p.events <- bledevice.DeviceEvent{Kind: bledevice.EventDisconnected}
	}()
}

func (p *peripheral) pushNotification(uuid string, data []byte) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	defer func() { recover() }()
	cp := make([]byte, len(data))
	copy(cp, data)
	p.events <- bledevice.DeviceEvent{Kind: bledevice.EventNotification, CharUUID: uuid, Value: cp}
}

type characteristic struct {
	client bleClient
	char   *ble.Characteristic
	parent *peripheral
}

func (c *characteristic) WriteWithResponse(data []byte, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- c.client.WriteCharacteristic(c.char, data, false) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write characteristic: %w", err)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("write characteristic: timed out after %v", timeout)
	}
}

func (c *characteristic) Read(timeout time.Duration) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := c.client.ReadCharacteristic(c.char)
		done <- result{data, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("read characteristic: %w", r.err)
		}
		return r.data, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("read characteristic: timed out after %v", timeout)
	}
}

func (c *characteristic) EnableNotifications() error {
	uuid := normalizeUUID(c.char.UUID)
	err := c.client.Subscribe(c.char, false, func(data []byte) {
		c.parent.pushNotification(uuid, data)
	})
	if err != nil {
		return fmt.Errorf("subscribe characteristic %s: %w", uuid, err)
	}
	return nil
}
