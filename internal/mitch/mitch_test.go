package mitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommand_Bytes(t *testing.T) {
	tests := []struct {
		cmd  Command
		want []byte
	}{
		{GetState, []byte{0x82, 0x00}},
		{GetPower, []byte{0x57, 0x00}},
		{StartAccelerometryStream, []byte{0x02, 0x03, 0xF8, 0x04, 0x04}},
		{StartPressureStream, []byte{0x02, 0x03, 0xF8, 0x01, 0x04}},
		{StopStream, []byte{0x02, 0x01, 0x02}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmd.Bytes())
		})
	}
}

func TestCommand_Bytes_ReturnsCopy(t *testing.T) {
	b := GetPower.Bytes()
	b[0] = 0xFF
	assert.Equal(t, byte(0x57), GetPower.Bytes()[0])
}

func TestCommand_Bytes_UnknownPanics(t *testing.T) {
	assert.Panics(t, func() {
		Command(999).Bytes()
	})
}

func TestDecodeState(t *testing.T) {
	tests := []struct {
		b       byte
		want    State
		wantOK  bool
		display string
	}{
		{0x01, SysStartup, true, "SysStartup"},
		{0x02, SysIdle, true, "SysIdle"},
		{0x03, SysStandby, true, "SysStandby"},
		{0x04, SysLog, true, "SysLog"},
		{0x05, SysReadout, true, "SysReadout"},
		{0xF8, SysTx, true, "SysTx"},
		{0xFF, SysError, true, "SysError"},
		{0xF0, BootStartup, true, "BootStartup"},
		{0xF1, BootIdle, true, "BootIdle"},
		{0xF2, BootDownload, true, "BootDownload"},
		{0x06, State(0x06), false, "Unknown state"},
		{0x00, State(0x00), false, "Unknown state"},
		{0xAA, State(0xAA), false, "Unknown state"},
	}
	for _, tt := range tests {
		got, ok := DecodeState(tt.b)
		assert.Equal(t, tt.want, got, "byte %#x", tt.b)
		assert.Equal(t, tt.wantOK, ok, "byte %#x", tt.b)
		assert.Equal(t, tt.display, got.String(), "byte %#x", tt.b)
	}
}

func TestUUIDs_AreDistinctAndNormalized(t *testing.T) {
	uuids := []string{ServiceUUID, CommandCharUUID, DataCharUUID}
	seen := map[string]bool{}
	for _, u := range uuids {
		assert.Len(t, u, 32)
		assert.NotContains(t, u, "-")
		assert.False(t, seen[u], "duplicate UUID %s", u)
		seen[u] = true
	}
}

func TestIsMitchName(t *testing.T) {
	assert.True(t, IsMitchName("mitch-A"))
	assert.True(t, IsMitchName("mitch"))
	assert.True(t, IsMitchName("mitchXYZ"))
	assert.False(t, IsMitchName("other-B"))
	assert.False(t, IsMitchName(""))
	assert.False(t, IsMitchName("mitc"))
}
