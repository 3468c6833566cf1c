package actuator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
)

type fakeConn struct {
	mu       sync.Mutex
	writes   []string
	failNext bool
	closed   bool
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return 0, errors.New("broken pipe")
	}
	c.writes = append(c.writes, string(p))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	copy(out, c.writes)
	return out
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dials   int
	err     error
	started chan struct{}
	release chan struct{}
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	started := d.started
	release := d.release
	d.mu.Unlock()
	if started != nil {
		close(started)
		d.mu.Lock()
		d.started = nil
		d.mu.Unlock()
	}
	if release != nil {
		<-release
	}
	if d.err != nil {
		return nil, d.err
	}
	conn := &fakeConn{}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func newTestLink(t *testing.T, d Dialer) *Link {
	t.Helper()
	l, err := NewLink(d, "paceface-display", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("link init failed: %v", err)
	}
	return l
}

func TestRequestSendWhileDisconnectedConnectsAndWritesOnce(t *testing.T) {
	d := &fakeDialer{}
	l := newTestLink(t, d)

	if err := l.RequestSend(context.Background(), emotion.Happy); err != nil {
		t.Fatalf("request send failed: %v", err)
	}
	if d.dialCount() != 1 {
		t.Fatalf("expected exactly one connect attempt, got %d", d.dialCount())
	}
	writes := d.conn(0).written()
	if len(writes) != 1 || writes[0] != "2\n" {
		t.Fatalf("expected single write \"2\\n\", got %v", writes)
	}
	if l.State() != Connected {
		t.Fatalf("expected Connected, got %v", l.State())
	}
}

func TestIntermediateValuesDroppedWhileConnecting(t *testing.T) {
	d := &fakeDialer{started: make(chan struct{}), release: make(chan struct{})}
	l := newTestLink(t, d)

	done := make(chan error, 1)
	go func() { done <- l.RequestSend(context.Background(), emotion.Calm) }()

	<-d.started
	if l.State() != Connecting {
		t.Fatalf("expected Connecting while dial is in flight, got %v", l.State())
	}
	// Supersede the pending value while the connect is still underway.
	if err := l.RequestSend(context.Background(), emotion.Excited); err != nil {
		t.Fatalf("queueing while connecting failed: %v", err)
	}
	close(d.release)

	if err := <-done; err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	writes := d.conn(0).written()
	if len(writes) != 1 || writes[0] != "3\n" {
		t.Fatalf("expected only the latest value to be written, got %v", writes)
	}
	if d.dialCount() != 1 {
		t.Fatalf("expected a single connect attempt, got %d", d.dialCount())
	}
}

func TestWriteFailureDropsToDisconnectedWithoutRetry(t *testing.T) {
	d := &fakeDialer{}
	l := newTestLink(t, d)

	if err := l.RequestSend(context.Background(), emotion.Happy); err != nil {
		t.Fatalf("initial send failed: %v", err)
	}
	d.conn(0).failNext = true
	if err := l.RequestSend(context.Background(), emotion.Excited); err == nil {
		t.Fatalf("expected write failure to surface")
	}
	if l.State() != Disconnected {
		t.Fatalf("write failure must resolve to Disconnected, got %v", l.State())
	}
	if !d.conn(0).closed {
		t.Fatalf("failed transport handle must be discarded")
	}
	if d.dialCount() != 1 {
		t.Fatalf("no synchronous reconnect expected, got %d dials", d.dialCount())
	}
}

func TestReconnectReplaysLastValueBeforeNewRequests(t *testing.T) {
	d := &fakeDialer{}
	l := newTestLink(t, d)

	if err := l.RequestSend(context.Background(), emotion.Excited); err != nil {
		t.Fatalf("initial send failed: %v", err)
	}
	// Drop the connection behind the link's back.
	if err := l.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}

	writes := d.conn(1).written()
	if len(writes) != 1 || writes[0] != "3\n" {
		t.Fatalf("expected last sent value replayed on reconnect, got %v", writes)
	}
}

func TestFailedWriteValueStaysPendingForReconnect(t *testing.T) {
	d := &fakeDialer{}
	l := newTestLink(t, d)

	if err := l.RequestSend(context.Background(), emotion.Calm); err != nil {
		t.Fatalf("initial send failed: %v", err)
	}
	d.conn(0).failNext = true
	if err := l.RequestSend(context.Background(), emotion.Frantic); err == nil {
		t.Fatalf("expected write failure")
	}
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}

	writes := d.conn(1).written()
	if len(writes) != 1 || writes[0] != "4\n" {
		t.Fatalf("expected the failed value replayed, got %v", writes)
	}
}

func TestConnectFailureResolvesToDisconnected(t *testing.T) {
	d := &fakeDialer{err: ErrDeviceNotFound}
	l := newTestLink(t, d)

	err := l.RequestSend(context.Background(), emotion.Happy)
	if err == nil {
		t.Fatalf("expected device-not-found to surface")
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if l.State() != Disconnected {
		t.Fatalf("connect failure must resolve to Disconnected, got %v", l.State())
	}
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	d := &fakeDialer{}
	l := newTestLink(t, d)

	if err := l.RequestSend(context.Background(), emotion.Happy); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("redundant connect must be a no-op: %v", err)
	}
	if d.dialCount() != 1 {
		t.Fatalf("expected one dial, got %d", d.dialCount())
	}
}

func TestStreamDialerUnknownDevice(t *testing.T) {
	dialer := NewStreamDialer(map[string]string{"other": "127.0.0.1:1"}, time.Second)
	_, err := dialer.Dial(context.Background(), "paceface-display")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "paceface-display") {
		t.Fatalf("error should name the missing device, got %v", err)
	}
}
