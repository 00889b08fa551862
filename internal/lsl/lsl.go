// Package lsl is the sample-sink abstraction for publishing fixed-shape
// Int16 frames to a Lab Streaming Layer outlet. No liblsl cgo binding is
// wired in here, so this package *is* the abstraction boundary: an Outlet
// interface a real binding could implement, plus one in-process
// implementation suitable for tests.
package lsl

import (
	"fmt"
	"sync"
)

// OutletSpec is the fixed shape of a mitch pressure stream.
type OutletSpec struct {
	Name               string
	ContentType        string
	ChannelCount       int
	NominalRateHz      float64
	SourceID           string
	ChunkSize          int
	MaxBufferedSeconds int
}

// PressureOutletSpec returns the fixed-shape outlet spec for a device's
// pressure stream, named after the device.
func PressureOutletSpec(deviceName string) OutletSpec {
	return OutletSpec{
		Name:               deviceName,
		ContentType:        "Pressure",
		ChannelCount:       16,
		NominalRateHz:      50.0,
		SourceID:           deviceName,
		ChunkSize:          1,
		MaxBufferedSeconds: 360,
	}
}

// Outlet is the publishing endpoint of an LSL stream: it accepts
// fixed-shape Int16 frames, one sample (one value per channel) at a time.
type Outlet interface {
	// PushSample publishes one sample. len(values) must equal the
	// outlet's channel count.
	PushSample(values []int16) error
	Close() error
}

// inProcessOutlet buffers pushed samples in a bounded ring. It stands in
// for a real liblsl outlet: same interface, observable state for tests.
type inProcessOutlet struct {
	spec OutletSpec

	mu     sync.Mutex
	ring   [][]int16
	cap    int
	next   int
	count  int
	closed bool
}

// NewOutlet constructs an in-process Outlet with the given spec. The ring
// buffer capacity is derived from MaxBufferedSeconds * NominalRateHz.
func NewOutlet(spec OutletSpec) Outlet {
	capacity := int(float64(spec.MaxBufferedSeconds) * spec.NominalRateHz)
	if capacity <= 0 {
		capacity = 1
	}
	return &inProcessOutlet{
		spec: spec,
		ring: make([][]int16, capacity),
		cap:  capacity,
	}
}

func (o *inProcessOutlet) PushSample(values []int16) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("lsl: outlet %q is closed", o.spec.Name)
	}
	if len(values) != o.spec.ChannelCount {
		return fmt.Errorf("lsl: outlet %q expects %d channels, got %d", o.spec.Name, o.spec.ChannelCount, len(values))
	}

	sample := make([]int16, len(values))
	copy(sample, values)
	o.ring[o.next] = sample
	o.next = (o.next + 1) % o.cap
	if o.count < o.cap {
		o.count++
	}
	return nil
}

func (o *inProcessOutlet) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// Samples returns a copy of every sample still held in the ring, oldest
// first. Test-only observability hook; a real liblsl outlet has no
// equivalent (samples are gone once pushed to the network).
func (o *inProcessOutlet) Samples() [][]int16 {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([][]int16, 0, o.count)
	start := (o.next - o.count + o.cap) % o.cap
	for i := 0; i < o.count; i++ {
		out = append(out, o.ring[(start+i)%o.cap])
	}
	return out
}

// AsInProcess type-asserts an Outlet back to its test-observable form, for
// use by tests constructed via NewOutlet. Returns nil if o wasn't built by
// NewOutlet.
func AsInProcess(o Outlet) *inProcessOutletView {
	p, ok := o.(*inProcessOutlet)
	if !ok {
		return nil
	}
	return &inProcessOutletView{p}
}

// inProcessOutletView exposes Samples() without widening the Outlet
// interface itself (real liblsl bindings have no such method).
type inProcessOutletView struct{ p *inProcessOutlet }

func (v *inProcessOutletView) Samples() [][]int16 { return v.p.Samples() }
