// Package mitch holds the frozen opcode table and device-state decoding
// for the mitch sensor protocol. Nothing here is derived or parameterized;
// every value is a literal constant straight out of the protocol.
package mitch

import "fmt"

// NamePrefix is the advertised-name prefix every mitch device carries.
const NamePrefix = "mitch"

// Frozen GATT UUIDs every mitch device exposes: the single service both
// characteristics hang off, the command characteristic (write-with-response,
// readable for the ack drain) and the data characteristic (notify).
// Normalized form: lowercase hex, no dashes, matching ble.UUID.String().
const (
	ServiceUUID     = "c8c0a708e3614b5ea36598fa6b0a836f"
	CommandCharUUID = "d59130362d8a41ee85b94e361aa5c8a7"
	DataCharUUID    = "09bf2c52d1d9c0b74145475964544307"
)

// Command is a named mitch opcode with a frozen byte sequence.
type Command int

const (
	GetState Command = iota
	GetPower
	StartAccelerometryStream
	StartPressureStream
	StopStream
)

var opcodes = map[Command][]byte{
	GetState:                 {0x82, 0x00},
	GetPower:                 {0x57, 0x00},
	StartAccelerometryStream: {0x02, 0x03, 0xF8, 0x04, 0x04},
	StartPressureStream:      {0x02, 0x03, 0xF8, 0x01, 0x04},
	StopStream:               {0x02, 0x01, 0x02},
}

var names = map[Command]string{
	GetState:                 "GetState",
	GetPower:                 "GetPower",
	StartAccelerometryStream: "StartAccelerometryStream",
	StartPressureStream:      "StartPressureStream",
	StopStream:               "StopStream",
}

// Bytes returns the frozen wire bytes for a command. It panics on an
// unknown Command value, which can only happen from a programming error
// inside this package (the set of Command values is closed).
func (c Command) Bytes() []byte {
	b, ok := opcodes[c]
	if !ok {
		panic(fmt.Sprintf("mitch: unknown command %d", int(c)))
	}
	// Return a copy: callers may pass this slice into a write path that
	// could retain or mutate it.
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c Command) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// State is a decoded mitch device system state.
type State uint8

const (
	SysStartup   State = 0x01
	SysIdle      State = 0x02
	SysStandby   State = 0x03
	SysLog       State = 0x04
	SysReadout   State = 0x05
	SysTx        State = 0xF8
	SysError     State = 0xFF
	BootStartup  State = 0xF0
	BootIdle     State = 0xF1
	BootDownload State = 0xF2
)

var stateNames = map[State]string{
	SysStartup:   "SysStartup",
	SysIdle:      "SysIdle",
	SysStandby:   "SysStandby",
	SysLog:       "SysLog",
	SysReadout:   "SysReadout",
	SysTx:        "SysTx",
	SysError:     "SysError",
	BootStartup:  "BootStartup",
	BootIdle:     "BootIdle",
	BootDownload: "BootDownload",
}

// DecodeState maps a raw status byte to a named State. Any byte outside
// the frozen table decodes to ("Unknown state", false).
func DecodeState(b byte) (State, bool) {
	s := State(b)
	_, ok := stateNames[s]
	return s, ok
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown state"
}

// IsMitchName reports whether an advertised name belongs to the mitch
// device family.
func IsMitchName(name string) bool {
	if len(name) < len(NamePrefix) {
		return false
	}
	return name[:len(NamePrefix)] == NamePrefix
}
