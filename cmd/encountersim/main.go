// Command encountersim publishes synthetic proximity encounters to the
// companion's Kafka topic, standing in for the on-device encounter
// detector during development.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type encounterEvent struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	OtherUserID    string    `json:"otherUserId"`
	Timestamp      time.Time `json:"timestamp"`
	EmotionID      int       `json:"emotionId"`
	OtherEmotionID int       `json:"otherEmotionId"`
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "comma-separated Kafka brokers")
	topic := flag.String("topic", "companion.encounters", "encounter topic")
	userID := flag.String("user", "walker-1", "user the encounters belong to")
	interval := flag.Duration("interval", 5*time.Second, "delay between encounters")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	writer := &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(*brokers, ",")...),
		Topic:    *topic,
		Balancer: &kafka.Hash{},
	}
	defer func() { _ = writer.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counterparts := []string{"walker-2", "walker-3", "walker-4", "walker-5", "walker-6"}

	log.Info("encountersim_started", "topic", *topic, "interval", interval.String())
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("encountersim_stopped")
			return
		case <-ticker.C:
			event := encounterEvent{
				ID:             uuid.NewString(),
				UserID:         *userID,
				OtherUserID:    counterparts[rand.Intn(len(counterparts))],
				Timestamp:      time.Now(),
				EmotionID:      rand.Intn(5),
				OtherEmotionID: rand.Intn(5),
			}
			payload, err := json.Marshal(event)
			if err != nil {
				log.Error("marshal failed", "err", err)
				continue
			}
			msg := kafka.Message{Key: []byte(event.UserID), Value: payload, Time: event.Timestamp}
			if err := writer.WriteMessages(ctx, msg); err != nil {
				log.Error("kafka write failed", "err", err)
				continue
			}
			log.Info("published", "otherUserId", event.OtherUserID, "otherEmotionId", event.OtherEmotionID)
		}
	}
}
