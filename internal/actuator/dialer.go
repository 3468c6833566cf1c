package actuator

import (
	"context"
	"fmt"
	"net"
	"time"
)

// StreamDialer resolves logical device names to stream addresses and opens
// a TCP channel to the selected one. It stands in for the platform's
// paired-device serial channel while keeping the same contract: one
// logical target, byte-stream semantics, transport-owned timeouts.
type StreamDialer struct {
	devices map[string]string
	timeout time.Duration
}

// NewStreamDialer builds a dialer over a name→address table, typically
// loaded from configuration. A non-positive timeout falls back to ten
// seconds.
func NewStreamDialer(devices map[string]string, timeout time.Duration) *StreamDialer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	table := make(map[string]string, len(devices))
	for name, addr := range devices {
		table[name] = addr
	}
	return &StreamDialer{devices: table, timeout: timeout}
}

// Dial looks the device up by name and connects. An unknown name is
// ErrDeviceNotFound: terminal for this attempt, never retried here.
func (d *StreamDialer) Dial(ctx context.Context, deviceName string) (Transport, error) {
	addr, ok := d.devices[deviceName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceName)
	}
	nd := net.Dialer{Timeout: d.timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s (%s): %w", deviceName, addr, err)
	}
	return conn, nil
}
