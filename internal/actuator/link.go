// Package actuator maintains the point-to-point link to the wearable
// display and pushes expression updates over it. The wire protocol is a
// newline-terminated ASCII integer per update; no acknowledgement is read
// back, a write that returns without error counts as delivered.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/metrics"
)

// State enumerates the link lifecycle. Transport failures always resolve
// back to Disconnected; the link is never left in an ambiguous state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrDeviceNotFound is returned when discovery cannot resolve the
// configured logical device name. It is terminal for that connect attempt;
// the next RequestSend drives the retry.
var ErrDeviceNotFound = errors.New("actuator device not found")

// Transport is the opaque byte stream to the paired device.
type Transport interface {
	io.WriteCloser
}

// Dialer discovers the device by its logical name and opens a stream
// channel to it. Discovery and connect timeouts are owned by the
// implementation; the link imposes no additional layer.
type Dialer interface {
	Dial(ctx context.Context, deviceName string) (Transport, error)
}

// Link is the process-wide connection owner for the single physical
// display. Only the most recent pending expression is kept while the link
// is down; stale intermediate values are dropped, and the last known value
// is replayed after every reconnect so the display never stays stale.
type Link struct {
	dialer Dialer
	device string
	log    *slog.Logger

	mu       sync.Mutex
	state    State
	conn     Transport
	pending  *emotion.ID
	lastSent emotion.ID
	hasLast  bool
}

func NewLink(dialer Dialer, deviceName string, log *slog.Logger) (*Link, error) {
	if dialer == nil {
		return nil, errors.New("dialer must not be nil")
	}
	if deviceName == "" {
		return nil, errors.New("device name must not be empty")
	}
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	metrics.SetLinkState(int(Disconnected))
	return &Link{
		dialer: dialer,
		device: deviceName,
		log:    log.With(slog.String("component", "actuator_link"), slog.String("device", deviceName)),
	}, nil
}

// State reports the current link state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RequestSend delivers an expression to the display. While Connected the
// value is written immediately; a write failure drops the link and keeps
// the value pending without retrying synchronously. While Connecting the
// value only replaces the pending slot. While Disconnected it becomes the
// pending value and one connect attempt is made.
func (l *Link) RequestSend(ctx context.Context, id emotion.ID) error {
	l.mu.Lock()
	switch l.state {
	case Connected:
		err := l.writeLocked(id)
		l.mu.Unlock()
		return err
	case Connecting:
		l.pending = &id
		l.mu.Unlock()
		return nil
	default:
		l.pending = &id
		l.mu.Unlock()
		return l.Connect(ctx)
	}
}

// Connect transitions Disconnected → Connecting → Connected. Calls while
// already Connecting or Connected are no-ops. On success the most recent
// pending value, or failing that the last successfully sent one, is
// written before the link accepts new requests. Any failure resolves the
// state back to Disconnected.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.state != Disconnected {
		l.mu.Unlock()
		return nil
	}
	l.setStateLocked(Connecting)
	l.mu.Unlock()

	conn, err := l.dialer.Dial(ctx, l.device)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.setStateLocked(Disconnected)
		metrics.IncConnectAttempt("failure")
		l.log.Warn("connect_failed", slog.Any("err", err))
		return fmt.Errorf("connect %s: %w", l.device, err)
	}
	l.conn = conn
	l.setStateLocked(Connected)
	metrics.IncConnectAttempt("success")
	l.log.Info("connected")

	replay, ok := l.replayValueLocked()
	if !ok {
		return nil
	}
	if err := l.writeLocked(replay); err != nil {
		return fmt.Errorf("replay %s: %w", replay, err)
	}
	l.log.Info("state_replayed", slog.String("emotion", replay.String()))
	return nil
}

// Close tears the link down and discards the transport handle.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn := l.conn
	l.conn = nil
	l.setStateLocked(Disconnected)
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// replayValueLocked picks what to send right after a reconnect: the most
// recent pending request wins over the last delivered value.
func (l *Link) replayValueLocked() (emotion.ID, bool) {
	if l.pending != nil {
		return *l.pending, true
	}
	if l.hasLast {
		return l.lastSent, true
	}
	return 0, false
}

// writeLocked serializes the expression as "N\n" onto the open transport.
// A failed write immediately drops to Disconnected, discards the handle,
// and keeps the value pending for the next attempt.
func (l *Link) writeLocked(id emotion.ID) error {
	if _, err := fmt.Fprintf(l.conn, "%d\n", int(id)); err != nil {
		if l.conn != nil {
			_ = l.conn.Close()
		}
		l.conn = nil
		l.pending = &id
		l.setStateLocked(Disconnected)
		metrics.IncActuatorWriteFailure()
		l.log.Warn("write_failed", slog.String("emotion", id.String()), slog.Any("err", err))
		return fmt.Errorf("write emotion %d: %w", int(id), err)
	}
	l.lastSent = id
	l.hasLast = true
	l.pending = nil
	l.log.Info("emotion_sent", slog.String("emotion", id.String()))
	return nil
}

func (l *Link) setStateLocked(s State) {
	if l.state != s {
		l.log.Debug("link_state", slog.String("from", l.state.String()), slog.String("to", s.String()))
	}
	l.state = s
	metrics.SetLinkState(int(s))
}
