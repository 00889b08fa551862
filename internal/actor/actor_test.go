package actor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/mitchd/internal/bledevice"
	"github.com/srg/mitchd/internal/lsl"
	"github.com/srg/mitchd/internal/mitch"
	"github.com/srg/mitchd/internal/registry"
	"github.com/srg/mitchd/pkg/config"
)

// fakeCharacteristic is a minimal bledevice.Characteristic test double:
// writes are recorded, reads return a canned response.
type fakeCharacteristic struct {
	writes    [][]byte
	readValue []byte
	readErr   error
	notifyErr error
	enabled   bool
}

func (c *fakeCharacteristic) WriteWithResponse(data []byte, _ time.Duration) error {
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeCharacteristic) Read(_ time.Duration) ([]byte, error) {
	return c.readValue, c.readErr
}

func (c *fakeCharacteristic) EnableNotifications() error {
	c.enabled = true
	return c.notifyErr
}

// fakePeripheral is a minimal bledevice.Peripheral test double whose event
// stream is driven directly by the test.
type fakePeripheral struct {
	cmdChar  *fakeCharacteristic
	dataChar *fakeCharacteristic

	events       chan bledevice.DeviceEvent
	disconnected bool
	linkParams   bledevice.LinkParams
}

func newFakePeripheral() *fakePeripheral {
	return &fakePeripheral{
		cmdChar:  &fakeCharacteristic{readValue: []byte{0, 0, 0, 0, 77}},
		dataChar: &fakeCharacteristic{},
		events:   make(chan bledevice.DeviceEvent, 4),
	}
}

func (p *fakePeripheral) UpgradeLinkParams(params bledevice.LinkParams) error {
	p.linkParams = params
	return nil
}

func (p *fakePeripheral) ResolveCharacteristic(uuid string) (bledevice.Characteristic, error) {
	switch uuid {
	case mitch.CommandCharUUID:
		return p.cmdChar, nil
	case mitch.DataCharUUID:
		return p.dataChar, nil
	default:
		return nil, bledevice.ErrNotFound
	}
}

func (p *fakePeripheral) Events() <-chan bledevice.DeviceEvent { return p.events }

func (p *fakePeripheral) Disconnect() error {
	p.disconnected = true
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func dialerFor(p *fakePeripheral) Dialer {
	return func(ctx context.Context) (bledevice.Peripheral, bledevice.Characteristic, bledevice.Characteristic, error) {
		return p, p.cmdChar, p.dataChar, nil
	}
}

func TestActor_StartRecording_PushesOneSampleFromNotification(t *testing.T) {
	p := newFakePeripheral()
	reg := registry.New[Command]()

	var captured lsl.Outlet
	originalFactory := OutletFactory
	OutletFactory = func(spec lsl.OutletSpec) lsl.Outlet {
		captured = originalFactory(spec)
		return captured
	}
	t.Cleanup(func() { OutletFactory = originalFactory })

	cmdCh, err := Spawn(context.Background(), "mitch-A", dialerFor(p), reg, config.DefaultFrameLayout(), testLogger())
	require.NoError(t, err)
	reg.Insert("mitch-A", cmdCh)

	cmdCh <- StartRecording{LSLStreamName: "mitch-A"}

	// Give the actor a moment to process StartRecording before the
	// notification arrives - the main loop services exactly one source
	// per iteration, so without this the notification could race ahead.
	time.Sleep(20 * time.Millisecond)
	require.True(t, p.dataChar.enabled)
	require.NotNil(t, captured)

	payload := []byte{0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	p.events <- bledevice.DeviceEvent{Kind: bledevice.EventNotification, CharUUID: mitch.DataCharUUID, Value: payload}

	var samples [][]int16
	require.Eventually(t, func() bool {
		samples = lsl.AsInProcess(captured).Samples()
		return len(samples) == 1
	}, time.Second, 10*time.Millisecond)

	expected := []int16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	assert.Equal(t, expected, samples[0])

	cmdCh <- Shutdown{}
	require.Eventually(t, func() bool {
		_, ok := reg.Get("mitch-A")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestActor_ShortNotification_Dropped(t *testing.T) {
	p := newFakePeripheral()
	reg := registry.New[Command]()

	var captured lsl.Outlet
	originalFactory := OutletFactory
	OutletFactory = func(spec lsl.OutletSpec) lsl.Outlet {
		captured = originalFactory(spec)
		return captured
	}
	t.Cleanup(func() { OutletFactory = originalFactory })

	cmdCh, err := Spawn(context.Background(), "mitch-A", dialerFor(p), reg, config.DefaultFrameLayout(), testLogger())
	require.NoError(t, err)
	reg.Insert("mitch-A", cmdCh)

	cmdCh <- StartRecording{LSLStreamName: "mitch-A"}
	time.Sleep(20 * time.Millisecond)
	require.NotNil(t, captured)

	p.events <- bledevice.DeviceEvent{Kind: bledevice.EventNotification, CharUUID: mitch.DataCharUUID, Value: []byte{0, 0}}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, lsl.AsInProcess(captured).Samples())

	cmdCh <- Shutdown{}
	require.Eventually(t, func() bool {
		_, ok := reg.Get("mitch-A")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestActor_Status_ReturnsPowerByte(t *testing.T) {
	p := newFakePeripheral()
	reg := registry.New[Command]()
	cmdCh, err := Spawn(context.Background(), "mitch-A", dialerFor(p), reg, config.DefaultFrameLayout(), testLogger())
	require.NoError(t, err)
	reg.Insert("mitch-A", cmdCh)

	reply := make(chan DeviceStatus, 1)
	cmdCh <- StatusRequest{Reply: reply}

	select {
	case status := <-reply:
		assert.Equal(t, "mitch-A", status.Name)
		assert.Equal(t, uint8(77), status.Power)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status reply")
	}

	cmdCh <- Shutdown{}
}

func TestActor_ChannelClosed_CleansUp(t *testing.T) {
	p := newFakePeripheral()
	reg := registry.New[Command]()
	cmdCh, err := Spawn(context.Background(), "mitch-A", dialerFor(p), reg, config.DefaultFrameLayout(), testLogger())
	require.NoError(t, err)
	reg.Insert("mitch-A", cmdCh)

	reg.Remove("mitch-A")
	close(cmdCh)

	require.Eventually(t, func() bool {
		return p.disconnected
	}, time.Second, 10*time.Millisecond)
}

func TestActor_Disconnect_ReconnectsWithoutRestreamingWhenNotStreaming(t *testing.T) {
	p := newFakePeripheral()
	reg := registry.New[Command]()
	cmdCh, err := Spawn(context.Background(), "mitch-A", dialerFor(p), reg, config.DefaultFrameLayout(), testLogger())
	require.NoError(t, err)
	reg.Insert("mitch-A", cmdCh)

	p.events <- bledevice.DeviceEvent{Kind: bledevice.EventDisconnected}

	time.Sleep(30 * time.Millisecond)
	_, stillRegistered := reg.Get("mitch-A")
	assert.True(t, stillRegistered)
	assert.Empty(t, p.cmdChar.writes, "no StartPressureStream should be re-issued when not streaming")

	cmdCh <- Shutdown{}
}

func TestActor_Disconnect_WhileStreaming_ReArmsStream(t *testing.T) {
	p := newFakePeripheral()
	reg := registry.New[Command]()
	cmdCh, err := Spawn(context.Background(), "mitch-A", dialerFor(p), reg, config.DefaultFrameLayout(), testLogger())
	require.NoError(t, err)
	reg.Insert("mitch-A", cmdCh)

	cmdCh <- StartRecording{LSLStreamName: "mitch-A"}
	time.Sleep(20 * time.Millisecond)
	require.NotEmpty(t, p.cmdChar.writes)
	writesBeforeDisconnect := len(p.cmdChar.writes)

	p.events <- bledevice.DeviceEvent{Kind: bledevice.EventDisconnected}
	time.Sleep(30 * time.Millisecond)

	assert.Greater(t, len(p.cmdChar.writes), writesBeforeDisconnect, "StartPressureStream should be re-issued after reconnect while streaming")

	cmdCh <- Shutdown{}
}

func TestNewDialer_DialFailure_ReturnsError(t *testing.T) {
	logger := testLogger()
	adapter := &dialFailAdapter{err: bledevice.ErrNotFound}
	dial := NewDialer(adapter, "AA:BB", bledevice.LinkParams{}, logger)

	_, _, _, err := dial(context.Background())
	assert.Error(t, err)
}

// dialFailAdapter.Dial always fails, exercising NewDialer's error path
// without needing a real peripheral.
type dialFailAdapter struct {
	err error
}

func (a *dialFailAdapter) Scan(ctx context.Context, handler func(bledevice.Advertisement)) error {
	return nil
}

func (a *dialFailAdapter) Dial(ctx context.Context, address string) (bledevice.Peripheral, error) {
	return nil, a.err
}
