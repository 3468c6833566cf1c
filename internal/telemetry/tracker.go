// Package telemetry ingests raw walking-speed samples, buckets them into
// wall-clock minute windows, and hands completed windows to the classifier.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/metrics"
)

const (
	// MaxSpeedKmh is the upper plausibility bound for a walking sample.
	// Anything above is treated as sensor noise and discarded.
	MaxSpeedKmh = 15.0
	// stationaryBelowKmh is the threshold under which a sample is snapped
	// to zero and treated as "standing still", not "no signal".
	stationaryBelowKmh = 0.5

	flushTimeout = 10 * time.Second
)

// ErrAlreadyRunning is returned when Run is called on a tracker whose
// scheduler loop is still active. One active tracking session per tracker
// is a deliberate invariant: two loops would flush the same bucket twice.
var ErrAlreadyRunning = errors.New("tracking session already running")

// SpeedSample is a single measurement from the location source. Samples
// only live in memory between arrival and aggregation.
type SpeedSample struct {
	SpeedKmh   float64
	CapturedAt time.Time
}

// HistoryRecord is the immutable per-minute aggregation result. WindowStart
// is the second-truncated start of the completed minute.
type HistoryRecord struct {
	UserID       string
	WindowStart  time.Time
	AverageSpeed float64
	Emotion      emotion.ID
}

// HistoryAppender persists completed minute windows.
type HistoryAppender interface {
	AppendHistory(ctx context.Context, rec HistoryRecord) error
}

// Classifier resolves an aggregated speed to an expression.
type Classifier interface {
	Classify(ctx context.Context, userID string, averageSpeed float64) (emotion.ID, error)
}

// EmotionPusher forwards a classified expression to the wearable display.
type EmotionPusher interface {
	RequestSend(ctx context.Context, id emotion.ID) error
}

// Tracker owns the minute bucket for one tracking session. Observe is
// called from the location-source context while the scheduler drains from
// its own goroutine, so the bucket is guarded by a mutex and drained with
// a swap-and-clear to never lose concurrently arriving samples.
type Tracker struct {
	userID   string
	history  HistoryAppender
	classify Classifier
	pusher   EmotionPusher
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	bucket  []float64
	running bool

	updates chan float64
}

// NewTracker wires a tracker for the given user. pusher may be nil when no
// actuator is paired; history and classify must not be.
func NewTracker(userID string, history HistoryAppender, classify Classifier, pusher EmotionPusher, log *slog.Logger) (*Tracker, error) {
	if userID == "" {
		return nil, errors.New("user id must not be empty")
	}
	if history == nil {
		return nil, errors.New("history appender must not be nil")
	}
	if classify == nil {
		return nil, errors.New("classifier must not be nil")
	}
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	return &Tracker{
		userID:   userID,
		history:  history,
		classify: classify,
		pusher:   pusher,
		log:      log.With(slog.String("component", "tracker"), slog.String("userId", userID)),
		now:      time.Now,
		updates:  make(chan float64, 1),
	}, nil
}

// Updates exposes the instantaneous-speed feed for the UI boundary. The
// channel carries the latest value only; stale intermediate values are
// replaced, not queued. A single zero sentinel is emitted when the
// session stops.
func (t *Tracker) Updates() <-chan float64 {
	return t.updates
}

// Observe validates and buckets one sample. Out-of-range samples are a
// filtering policy, not an error: they are counted and dropped silently.
func (t *Tracker) Observe(s SpeedSample) {
	v := s.SpeedKmh
	if v < 0 || v > MaxSpeedKmh {
		metrics.IncSampleRejected()
		t.log.Debug("sample_rejected", slog.Float64("speedKmh", s.SpeedKmh))
		return
	}
	if v < stationaryBelowKmh {
		v = 0
	}
	t.mu.Lock()
	t.bucket = append(t.bucket, v)
	t.mu.Unlock()
	metrics.IncSampleAccepted()
	t.notify(v)
}

// notify publishes the latest instantaneous speed, dropping the previous
// value if the UI has not consumed it yet.
func (t *Tracker) notify(v float64) {
	select {
	case t.updates <- v:
	default:
		select {
		case <-t.updates:
		default:
		}
		select {
		case t.updates <- v:
		default:
		}
	}
}

// Run drives the minute-aligned scheduler until ctx is cancelled. The
// first flush fires at the next wall-clock minute boundary (60 minus the
// current second), then every sixty seconds. Cancellation forces one last
// flush of the partial window so it is never silently dropped.
func (t *Tracker) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.running = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	start := t.now()
	firstDelay := time.Duration(60-start.Second()) * time.Second
	t.log.Info("tracker_started", slog.Duration("first_tick_in", firstDelay))

	timer := time.NewTimer(firstDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		t.stop()
		return ctx.Err()
	case tick := <-timer.C:
		t.flush(windowBefore(tick), false)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.stop()
			return ctx.Err()
		case tick := <-ticker.C:
			t.flush(windowBefore(tick), false)
		}
	}
}

// stop performs the forced final flush of the in-progress partial window
// and emits the zero sentinel toward the UI.
func (t *Tracker) stop() {
	t.flush(t.now().Truncate(time.Minute), true)
	t.notify(0)
	t.log.Info("tracker_stopped")
}

// windowBefore maps a minute-boundary tick to the start of the window it
// just completed.
func windowBefore(tick time.Time) time.Time {
	return tick.Truncate(time.Minute).Add(-time.Minute)
}

// flush atomically drains the bucket, aggregates it, and records the
// result. Empty buckets produce neither a history record nor a classifier
// call. The history append and the actuator push are independent effects:
// a failed push never rolls back the record.
func (t *Tracker) flush(windowStart time.Time, final bool) {
	t.mu.Lock()
	drained := t.bucket
	t.bucket = nil
	t.mu.Unlock()

	if len(drained) == 0 {
		metrics.ObserveFlush("empty")
		return
	}

	var sum float64
	for _, v := range drained {
		sum += v
	}
	avg := sum / float64(len(drained))

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	id, err := t.classify.Classify(ctx, t.userID, avg)
	if err != nil {
		t.log.Error("classify_failed", slog.Float64("avgKmh", avg), slog.Any("err", err))
		return
	}

	rec := HistoryRecord{
		UserID:       t.userID,
		WindowStart:  windowStart.Truncate(time.Second),
		AverageSpeed: avg,
		Emotion:      id,
	}
	if err := t.history.AppendHistory(ctx, rec); err != nil {
		t.log.Error("history_append_failed", slog.Time("windowStart", rec.WindowStart), slog.Any("err", err))
	}

	if t.pusher != nil {
		if err := t.pusher.RequestSend(ctx, id); err != nil {
			t.log.Warn("actuator_push_failed", slog.String("emotion", id.String()), slog.Any("err", err))
		}
	}

	outcome := "aggregated"
	if final {
		outcome = "final"
	}
	metrics.ObserveFlush(outcome)
	t.log.Info("bucket_flushed",
		slog.Time("windowStart", rec.WindowStart),
		slog.Int("samples", len(drained)),
		slog.Float64("avgKmh", avg),
		slog.String("emotion", id.String()),
		slog.Bool("final", final),
	)
}
