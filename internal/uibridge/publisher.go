// Package uibridge pushes instantaneous speed updates toward the phone UI
// over MQTT. The bridge only ever carries the latest value; the tracker's
// update channel already drops stale intermediates.
package uibridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const connectTimeout = 10 * time.Second

// Publisher owns the MQTT session used for UI notifications.
type Publisher struct {
	client mqtt.Client
	topic  string
	userID string
	log    *slog.Logger
}

type speedUpdate struct {
	UserID     string    `json:"userId"`
	SpeedKmh   float64   `json:"speedKmh"`
	ObservedAt time.Time `json:"observedAt"`
}

// NewPublisher connects to the broker and returns a ready publisher.
func NewPublisher(brokerURL, clientID, topic, userID string, log *slog.Logger) (*Publisher, error) {
	if brokerURL == "" {
		return nil, errors.New("broker url must not be empty")
	}
	if topic == "" {
		return nil, errors.New("topic must not be empty")
	}
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to %s: timeout", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", brokerURL, err)
	}

	p := &Publisher{
		client: client,
		topic:  topic,
		userID: userID,
		log:    log.With(slog.String("component", "ui_bridge"), slog.String("topic", topic)),
	}
	p.log.Info("ui_bridge_connected", slog.String("broker", brokerURL))
	return p, nil
}

// Publish sends one speed value. Publish failures are reported but the
// session stays up; auto-reconnect repairs the link in the background.
func (p *Publisher) Publish(speedKmh float64) error {
	payload, err := json.Marshal(speedUpdate{
		UserID:     p.userID,
		SpeedKmh:   speedKmh,
		ObservedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal speed update: %w", err)
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Warn("ui_publish_failed", slog.Float64("speedKmh", speedKmh), slog.Any("err", err))
		return fmt.Errorf("publish speed update: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
	p.log.Info("ui_bridge_disconnected")
}
