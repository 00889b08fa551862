// Package protocol implements the daemon's IPC wire format: an 8-byte
// little-endian length prefix followed by a JSON payload encoding a
// tagged sum type. Exactly one request and one reply are exchanged per
// connection.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// ClientCommand is the sum type sent from the CLI client to the daemon.
type ClientCommand struct {
	Scan       *ScanCommand
	Status     bool
	Connect    *NamedCommand
	Disconnect *NamedCommand
	Record     *NamedCommand
}

// ScanCommand carries a scan's discovery window.
type ScanCommand struct {
	TimeoutMS uint64 `json:"timeout_ms"`
}

// NamedCommand carries a single device name, shared by Connect, Disconnect
// and Record.
type NamedCommand struct {
	Name string `json:"name"`
}

// DeviceStatusEntry is one reply collected by the Status fan-out: a
// device name tagged with its current power byte.
type DeviceStatusEntry struct {
	Name  string `json:"name"`
	Power uint8  `json:"power"`
}

// DaemonResponse is the sum type sent from the daemon back to the client.
type DaemonResponse struct {
	Ok      bool
	Devices []string
	Status  []DeviceStatusEntry
	Error   string
}

// MarshalJSON encodes the tagged-union wire shape: {"Variant": <payload>}
// where unit variants encode as {"Variant": null}.
func (c ClientCommand) MarshalJSON() ([]byte, error) {
	switch {
	case c.Scan != nil:
		return json.Marshal(struct {
			Scan *ScanCommand `json:"Scan"`
		}{c.Scan})
	case c.Status:
		return json.Marshal(struct {
			Status any `json:"Status"`
		}{nil})
	case c.Connect != nil:
		return json.Marshal(struct {
			Connect *NamedCommand `json:"Connect"`
		}{c.Connect})
	case c.Disconnect != nil:
		return json.Marshal(struct {
			Disconnect *NamedCommand `json:"Disconnect"`
		}{c.Disconnect})
	case c.Record != nil:
		return json.Marshal(struct {
			Record *NamedCommand `json:"Record"`
		}{c.Record})
	default:
		return nil, fmt.Errorf("protocol: empty ClientCommand")
	}
}

// UnmarshalJSON decodes any one of the five tagged variants.
func (c *ClientCommand) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("protocol: bad command: %w", err)
	}
	if len(probe) != 1 {
		return fmt.Errorf("protocol: bad command: expected exactly one tagged variant, got %d", len(probe))
	}

	*c = ClientCommand{}
	for tag, raw := range probe {
		switch tag {
		case "Scan":
			var s ScanCommand
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("protocol: bad Scan command: %w", err)
			}
			c.Scan = &s
		case "Status":
			c.Status = true
		case "Connect":
			var n NamedCommand
			if err := json.Unmarshal(raw, &n); err != nil {
				return fmt.Errorf("protocol: bad Connect command: %w", err)
			}
			c.Connect = &n
		case "Disconnect":
			var n NamedCommand
			if err := json.Unmarshal(raw, &n); err != nil {
				return fmt.Errorf("protocol: bad Disconnect command: %w", err)
			}
			c.Disconnect = &n
		case "Record":
			var n NamedCommand
			if err := json.Unmarshal(raw, &n); err != nil {
				return fmt.Errorf("protocol: bad Record command: %w", err)
			}
			c.Record = &n
		default:
			return fmt.Errorf("protocol: bad command: unknown variant %q", tag)
		}
	}
	return nil
}

// MarshalJSON encodes the DaemonResponse tagged union.
func (r DaemonResponse) MarshalJSON() ([]byte, error) {
	switch {
	case r.Error != "":
		return json.Marshal(struct {
			Error string `json:"Error"`
		}{r.Error})
	case r.Devices != nil:
		return json.Marshal(struct {
			Devices []string `json:"Devices"`
		}{r.Devices})
	case r.Status != nil:
		return json.Marshal(struct {
			Status []DeviceStatusEntry `json:"Status"`
		}{r.Status})
	case r.Ok:
		return json.Marshal(struct {
			Ok any `json:"Ok"`
		}{nil})
	default:
		return nil, fmt.Errorf("protocol: empty DaemonResponse")
	}
}

// UnmarshalJSON decodes any one of the four tagged variants.
func (r *DaemonResponse) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("protocol: bad response: %w", err)
	}
	if len(probe) != 1 {
		return fmt.Errorf("protocol: bad response: expected exactly one tagged variant, got %d", len(probe))
	}

	*r = DaemonResponse{}
	for tag, raw := range probe {
		switch tag {
		case "Ok":
			r.Ok = true
		case "Devices":
			var d []string
			if err := json.Unmarshal(raw, &d); err != nil {
				return fmt.Errorf("protocol: bad Devices response: %w", err)
			}
			if d == nil {
				d = []string{}
			}
			r.Devices = d
		case "Status":
			var s []DeviceStatusEntry
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("protocol: bad Status response: %w", err)
			}
			if s == nil {
				s = []DeviceStatusEntry{}
			}
			r.Status = s
		case "Error":
			var e string
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("protocol: bad Error response: %w", err)
			}
			r.Error = e
		default:
			return fmt.Errorf("protocol: bad response: unknown variant %q", tag)
		}
	}
	return nil
}

// ErrMalformedFrame is returned by ReadFrame when the length prefix or
// payload is truncated, and by WriteFrame when writing either one fails.
type ErrMalformedFrame struct {
	Cause error
}

func (e *ErrMalformedFrame) Error() string {
	return fmt.Sprintf("malformed frame: %v", e.Cause)
}

func (e *ErrMalformedFrame) Unwrap() error { return e.Cause }

// WriteFrame writes the 8-byte little-endian length prefix followed by the
// JSON encoding of v.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: encode frame: %w", err)
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return &ErrMalformedFrame{Cause: err}
	}
	if _, err := w.Write(payload); err != nil {
		return &ErrMalformedFrame{Cause: err}
	}
	return nil
}

// ReadFrame reads an 8-byte little-endian length prefix and exactly that
// many bytes of JSON payload, then unmarshals it into v.
func ReadFrame(r io.Reader, v any) error {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return &ErrMalformedFrame{Cause: err}
	}
	length := binary.LittleEndian.Uint64(lenBuf[:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return &ErrMalformedFrame{Cause: err}
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("bad command: %w", err)
	}
	return nil
}
