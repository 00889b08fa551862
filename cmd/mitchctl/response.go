package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/srg/mitchd/internal/ipcclient"
	"github.com/srg/mitchd/internal/protocol"
)

// ErrDaemonError wraps a DaemonResponse.Error string so the top-level
// ERROR: printer in main() and exit-code handling in Execute() treat it
// like any other failure and exit non-zero.
type ErrDaemonError struct {
	Message string
}

func (e *ErrDaemonError) Error() string { return e.Message }

// send issues cmd against the daemon at flagSocketPath and converts an
// Error response into a Go error, so every subcommand's RunE only needs
// to check send's error.
func send(ctx context.Context, cmd protocol.ClientCommand) (protocol.DaemonResponse, error) {
	resp, err := ipcclient.Do(ctx, flagSocketPath, cmd)
	if err != nil {
		return protocol.DaemonResponse{}, fmt.Errorf("connect to daemon: %w", err)
	}
	if resp.Error != "" {
		return resp, &ErrDaemonError{Message: resp.Error}
	}
	return resp, nil
}

func printDevices(names []string) {
	if len(names) == 0 {
		fmt.Println("No mitch devices found")
		return
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for _, n := range sorted {
		fmt.Println(n)
	}
}

func printStatus(entries []protocol.DeviceStatusEntry) {
	if len(entries) == 0 {
		fmt.Println("No devices connected")
		return
	}
	sorted := append([]protocol.DeviceStatusEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, e := range sorted {
		fmt.Printf("%s\tpower=%d\n", e.Name, e.Power)
	}
}
