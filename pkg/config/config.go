// Package config holds daemon-wide configuration defaults.
package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// LinkParams is the link-parameter upgrade requested after a BLE connect.
// Units are whatever the host HCI stack expects natively (on Linux, the
// argument semantics of `hcitool lecup`). Frozen per the mitch protocol.
type LinkParams struct {
	Min     uint16
	Max     uint16
	Latency uint16
	Timeout uint16
}

// DefaultLinkParams returns the frozen link-parameter upgrade values.
func DefaultLinkParams() LinkParams {
	return LinkParams{Min: 40, Max: 56, Latency: 0, Timeout: 200}
}

// FrameLayout configures how a data-characteristic notification payload is
// decoded into one LSL sample. HeaderLen bytes are discarded; the next
// ChannelCount bytes are each zero-extended into one Int16 channel value.
//
// Only the header length and the channel count are configurable: every
// channel is always decoded from one byte, zero-extended. A layout of
// 16-bit little-endian samples cannot be expressed with these two fields.
type FrameLayout struct {
	HeaderLen    int
	ChannelCount int
}

// DefaultFrameLayout returns the layout mitch devices emit.
func DefaultFrameLayout() FrameLayout {
	return FrameLayout{HeaderLen: 4, ChannelCount: 16}
}

// MinFrameLen is the shortest notification payload FrameLayout will accept.
func (f FrameLayout) MinFrameLen() int {
	return f.HeaderLen + f.ChannelCount
}

// Config holds daemon-wide configuration.
type Config struct {
	// SocketPath is the Unix domain socket the daemon listens on.
	SocketPath string

	// ConnectDiscoveryWindow bounds how long Connect scans before giving up.
	ConnectDiscoveryWindow time.Duration

	// ShutdownGrace bounds how long Connect waits for a replaced actor to
	// remove its own registry entry before proceeding anyway.
	ShutdownGrace time.Duration

	// Link is the link-parameter upgrade applied (best-effort) after connect.
	Link LinkParams

	// Frame is the notification decoding layout used by every actor.
	Frame FrameLayout

	// LogLevel is the daemon's default logrus level.
	LogLevel logrus.Level
}

// DefaultConfig returns the daemon's default configuration.
func DefaultConfig() *Config {
	return &Config{
		SocketPath:             "/tmp/mitch.sock",
		ConnectDiscoveryWindow: 5 * time.Second,
		ShutdownGrace:          2 * time.Second,
		Link:                   DefaultLinkParams(),
		Frame:                  DefaultFrameLayout(),
		LogLevel:               logrus.InfoLevel,
	}
}

// NewLogger creates a logger configured the way every component in this
// daemon expects: text formatter, full timestamps, RFC3339.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
