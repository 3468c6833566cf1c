// Package ingest consumes proximity-encounter events from the broker,
// records them durably, and triggers badge evaluation.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/badges"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/metrics"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/store"
)

// EncounterConsumerConfig captures the runtime tunables for the encounter
// stream. All fields must be populated by the caller.
type EncounterConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// Recorder persists an encounter before any evaluation touches it.
type Recorder interface {
	RecordEncounter(ctx context.Context, e store.Encounter) error
}

// Evaluator runs the badge catalog after a new encounter landed.
type Evaluator interface {
	Evaluate(ctx context.Context, userID, otherUserID string) ([]badges.BadgeUnlock, error)
}

// kafkaMessageFetcher captures the read capability so tests can stand in
// for the raw reader.
type kafkaMessageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
}

// EncounterConsumer streams encounter events from Kafka. Each message is
// recorded first and evaluated second; an evaluation failure is logged and
// left for the next encounter to repair, since the engine is idempotent.
type EncounterConsumer struct {
	cfg      EncounterConsumerConfig
	reader   *kafka.Reader
	fetcher  kafkaMessageFetcher
	recorder Recorder
	engine   Evaluator
	log      *slog.Logger
	poll     time.Duration
}

func NewEncounterConsumer(cfg EncounterConsumerConfig, recorder Recorder, engine Evaluator, log *slog.Logger) (*EncounterConsumer, error) {
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if recorder == nil {
		return nil, errors.New("recorder must not be nil")
	}
	if engine == nil {
		return nil, errors.New("evaluator must not be nil")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("encounter topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group must not be empty")
	}

	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 5 * time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	return &EncounterConsumer{
		cfg:      cfg,
		reader:   reader,
		fetcher:  reader,
		recorder: recorder,
		engine:   engine,
		log:      log.With(slog.String("component", "encounter_consumer")),
		poll:     poll,
	}, nil
}

// Close shuts down the underlying Kafka reader.
func (c *EncounterConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Run blocks until the context is cancelled or the reader is closed.
func (c *EncounterConsumer) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}

	c.log.Info("encounter_consumer_started",
		slog.String("topic", c.cfg.Topic),
		slog.String("group", c.cfg.GroupID),
		slog.String("brokers", strings.Join(c.cfg.Brokers, ",")),
		slog.Duration("pollTimeout", c.poll),
	)
	defer c.log.Info("encounter_consumer_stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.poll)
		msg, err := c.fetcher.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			c.log.Error("encounter_fetch_error", slog.Any("err", err))
			continue
		}

		c.handle(ctx, msg.Value, msg.Offset)

		commitCtx, commitCancel := context.WithTimeout(ctx, c.poll)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				c.log.Error("encounter_commit_error", slog.Any("err", err))
			}
		}
		commitCancel()
	}
}

// handle records one decoded event, then evaluates badges for its owner.
func (c *EncounterConsumer) handle(ctx context.Context, raw []byte, offset int64) {
	event, err := decodeEncounter(raw)
	if err != nil {
		c.log.Warn("encounter_decode_error", slog.Any("err", err), slog.Int64("offset", offset))
		return
	}

	if err := c.recorder.RecordEncounter(ctx, event); err != nil {
		c.log.Error("encounter_record_failed", slog.String("id", event.ID), slog.Any("err", err))
		return
	}
	metrics.IncEncounterRecorded()
	c.log.Info("encounter_recorded",
		slog.String("id", event.ID),
		slog.String("userId", event.UserID),
		slog.String("otherUserId", event.OtherUserID),
		slog.Time("ts", event.Timestamp),
	)

	unlocked, err := c.engine.Evaluate(ctx, event.UserID, event.OtherUserID)
	if err != nil {
		c.log.Error("badge_evaluation_failed", slog.String("userId", event.UserID), slog.Any("err", err))
		return
	}
	for _, u := range unlocked {
		c.log.Info("encounter_badge_awarded", slog.String("userId", u.UserID), slog.String("badgeId", u.BadgeID))
	}
}

// encounterEnvelope mirrors the broker payload while tolerating additional
// fields emitted by newer detectors.
type encounterEnvelope struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	OtherUserID    string          `json:"otherUserId"`
	Timestamp      json.RawMessage `json:"timestamp"`
	EmotionID      int             `json:"emotionId"`
	OtherEmotionID int             `json:"otherEmotionId"`
}

// decodeEncounter validates the payload and fills defaults: a missing id
// gets a fresh UUID, a missing timestamp the current time.
func decodeEncounter(raw []byte) (store.Encounter, error) {
	var env encounterEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return store.Encounter{}, fmt.Errorf("decode encounter payload: %w", err)
	}
	if strings.TrimSpace(env.UserID) == "" {
		return store.Encounter{}, errors.New("userId missing or empty")
	}
	if strings.TrimSpace(env.OtherUserID) == "" {
		return store.Encounter{}, errors.New("otherUserId missing or empty")
	}

	ts := time.Now()
	if len(env.Timestamp) > 0 {
		parsed, err := parseTimestamp(env.Timestamp)
		if err != nil {
			return store.Encounter{}, err
		}
		ts = parsed
	}

	id := strings.TrimSpace(env.ID)
	if id == "" {
		id = uuid.NewString()
	}

	return store.Encounter{
		ID:           id,
		UserID:       strings.TrimSpace(env.UserID),
		OtherUserID:  strings.TrimSpace(env.OtherUserID),
		Timestamp:    ts,
		Emotion:      emotion.ID(env.EmotionID),
		OtherEmotion: emotion.ID(env.OtherEmotionID),
	}, nil
}

// parseTimestamp accepts RFC3339/RFC3339Nano strings as well as Unix epoch
// milliseconds provided as string or numeric JSON values.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		trimmed := strings.TrimSpace(asString)
		if trimmed == "" {
			return time.Time{}, errors.New("timestamp string empty")
		}
		if ts, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
			return ts, nil
		}
		if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
			return ts, nil
		}
		if millis, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return time.UnixMilli(millis), nil
		}
		return time.Time{}, fmt.Errorf("unsupported timestamp string %q", trimmed)
	}

	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		if millis, err := asNumber.Int64(); err == nil {
			return time.UnixMilli(millis), nil
		}
	}
	return time.Time{}, errors.New("timestamp format not recognized")
}
