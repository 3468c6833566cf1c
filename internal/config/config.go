// Package config resolves runtime settings by layering defaults, an
// optional properties file, and environment variables, so the companion
// can boot with minimal setup.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures all runtime settings required by the companion core.
type Config struct {
	// ListenAddress defines the TCP address used by the HTTP server.
	ListenAddress string
	// LogFilePath is the path to the structured log file.
	LogFilePath string
	// HTTPReadTimeout bounds the time to read incoming requests.
	HTTPReadTimeout time.Duration
	// HTTPWriteTimeout bounds the time to write responses.
	HTTPWriteTimeout time.Duration
	// ShutdownTimeout limits graceful shutdown attempts.
	ShutdownTimeout time.Duration
	// PropertiesPath records the path used to load property values.
	PropertiesPath string

	// DatabasePath locates the embedded SQLite store.
	DatabasePath string
	// UserID is the local account whose walking session this process tracks.
	UserID string

	// KafkaBrokers lists the bootstrap brokers for the encounter stream.
	KafkaBrokers []string
	// EncounterTopic carries proximity events from the detector.
	EncounterTopic string
	// EncounterGroupID is the consumer group used for checkpointing.
	EncounterGroupID string
	// EncounterPollTimeout bounds the wait for broker messages.
	EncounterPollTimeout time.Duration

	// DeviceName is the logical name of the paired wearable display.
	DeviceName string
	// DeviceAddresses maps logical device names to stream addresses.
	DeviceAddresses map[string]string
	// DeviceDialTimeout bounds discovery plus connect per attempt.
	DeviceDialTimeout time.Duration

	// MQTTBroker enables the UI speed bridge when non-empty.
	MQTTBroker string
	// MQTTTopic receives instantaneous speed updates.
	MQTTTopic string
	// MQTTClientID identifies this process on the broker.
	MQTTClientID string

	// BadgeCatalogPath optionally overrides the built-in badge catalog.
	BadgeCatalogPath string
	// PeakEmotionID names the expression satisfying peak-emotion badges.
	PeakEmotionID int
}

const (
	defaultListenAddress  = ":8087"
	defaultLogFile        = "logs/companion.log"
	defaultReadTimeout    = 5 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultShutdown       = 5 * time.Second
	defaultPropsPath      = "companion.properties"
	defaultDatabasePath   = "data/companion.db"
	defaultUserID         = "walker-1"
	defaultKafkaBrokers   = "kafka:9092"
	defaultEncounterTopic = "companion.encounters"
	defaultEncounterGroup = "companion-badges"
	defaultPollTimeout    = 5 * time.Second
	defaultDeviceName     = "paceface-display"
	defaultDialTimeout    = 10 * time.Second
	defaultMQTTTopic      = "companion/ui/speed"
	defaultMQTTClientID   = "companion-core"
	defaultPeakEmotion    = 4
)

// Load resolves configuration by layering defaults, an optional properties
// file, and finally environment variables. The properties file location
// can be overridden with COMPANION_PROPERTIES_PATH.
func Load() (Config, error) {
	cfg := Config{
		ListenAddress:        defaultListenAddress,
		LogFilePath:          filepath.Clean(defaultLogFile),
		HTTPReadTimeout:      defaultReadTimeout,
		HTTPWriteTimeout:     defaultWriteTimeout,
		ShutdownTimeout:      defaultShutdown,
		DatabasePath:         filepath.Clean(defaultDatabasePath),
		UserID:               defaultUserID,
		KafkaBrokers:         splitAndTrim(defaultKafkaBrokers),
		EncounterTopic:       defaultEncounterTopic,
		EncounterGroupID:     defaultEncounterGroup,
		EncounterPollTimeout: defaultPollTimeout,
		DeviceName:           defaultDeviceName,
		DeviceAddresses:      map[string]string{},
		DeviceDialTimeout:    defaultDialTimeout,
		MQTTTopic:            defaultMQTTTopic,
		MQTTClientID:         defaultMQTTClientID,
		PeakEmotionID:        defaultPeakEmotion,
	}

	propsPath := strings.TrimSpace(os.Getenv("COMPANION_PROPERTIES_PATH"))
	if propsPath == "" {
		propsPath = defaultPropsPath
	}
	cfg.PropertiesPath = propsPath

	if err := applyProperties(&cfg, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := setOption(cfg, key, value); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

// optionKeys maps property names to the COMPANION_* environment variables
// carrying the same setting. Both layers share one setter.
var optionKeys = []struct {
	property string
	env      string
}{
	{"listen_address", "COMPANION_LISTEN_ADDRESS"},
	{"log_path", "COMPANION_LOG_PATH"},
	{"http_read_timeout_ms", "COMPANION_HTTP_READ_TIMEOUT_MS"},
	{"http_write_timeout_ms", "COMPANION_HTTP_WRITE_TIMEOUT_MS"},
	{"shutdown_timeout_ms", "COMPANION_SHUTDOWN_TIMEOUT_MS"},
	{"database_path", "COMPANION_DATABASE_PATH"},
	{"user_id", "COMPANION_USER_ID"},
	{"kafka_brokers", "COMPANION_KAFKA_BROKERS"},
	{"encounter_topic", "COMPANION_ENCOUNTER_TOPIC"},
	{"encounter_group_id", "COMPANION_ENCOUNTER_GROUP"},
	{"encounter_poll_timeout_ms", "COMPANION_ENCOUNTER_POLL_TIMEOUT_MS"},
	{"device_name", "COMPANION_DEVICE_NAME"},
	{"device_addresses", "COMPANION_DEVICE_ADDRESSES"},
	{"device_dial_timeout_ms", "COMPANION_DEVICE_DIAL_TIMEOUT_MS"},
	{"mqtt_broker", "COMPANION_MQTT_BROKER"},
	{"mqtt_topic", "COMPANION_MQTT_TOPIC"},
	{"mqtt_client_id", "COMPANION_MQTT_CLIENT_ID"},
	{"badge_catalog_path", "COMPANION_BADGE_CATALOG_PATH"},
	{"peak_emotion_id", "COMPANION_PEAK_EMOTION_ID"},
}

func applyEnv(cfg *Config) error {
	for _, opt := range optionKeys {
		v, ok := os.LookupEnv(opt.env)
		if !ok {
			continue
		}
		if err := setOption(cfg, opt.property, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s: %w", opt.env, err)
		}
	}
	return nil
}

func setOption(cfg *Config, key, value string) error {
	switch key {
	case "listen_address":
		if value == "" {
			return errors.New("listen_address cannot be empty")
		}
		cfg.ListenAddress = value
	case "log_path":
		if value == "" {
			return errors.New("log_path cannot be empty")
		}
		cfg.LogFilePath = filepath.Clean(value)
	case "http_read_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.HTTPReadTimeout = d
	case "http_write_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.HTTPWriteTimeout = d
	case "shutdown_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.ShutdownTimeout = d
	case "database_path":
		if value == "" {
			return errors.New("database_path cannot be empty")
		}
		cfg.DatabasePath = filepath.Clean(value)
	case "user_id":
		if value == "" {
			return errors.New("user_id cannot be empty")
		}
		cfg.UserID = value
	case "kafka_brokers":
		brokers := splitAndTrim(value)
		if len(brokers) == 0 {
			return errors.New("kafka_brokers cannot be empty")
		}
		cfg.KafkaBrokers = brokers
	case "encounter_topic":
		if value == "" {
			return errors.New("encounter_topic cannot be empty")
		}
		cfg.EncounterTopic = value
	case "encounter_group_id":
		if value == "" {
			return errors.New("encounter_group_id cannot be empty")
		}
		cfg.EncounterGroupID = value
	case "encounter_poll_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.EncounterPollTimeout = d
	case "device_name":
		if value == "" {
			return errors.New("device_name cannot be empty")
		}
		cfg.DeviceName = value
	case "device_addresses":
		table, err := parseDeviceTable(value)
		if err != nil {
			return err
		}
		cfg.DeviceAddresses = table
	case "device_dial_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.DeviceDialTimeout = d
	case "mqtt_broker":
		cfg.MQTTBroker = value
	case "mqtt_topic":
		if value == "" {
			return errors.New("mqtt_topic cannot be empty")
		}
		cfg.MQTTTopic = value
	case "mqtt_client_id":
		if value == "" {
			return errors.New("mqtt_client_id cannot be empty")
		}
		cfg.MQTTClientID = value
	case "badge_catalog_path":
		cfg.BadgeCatalogPath = value
	case "peak_emotion_id":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid peak_emotion_id: %w", err)
		}
		if n < 0 {
			return errors.New("peak_emotion_id must not be negative")
		}
		cfg.PeakEmotionID = n
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return nil
}

// parseDeviceTable reads "name=host:port,name2=host2:port2" pairs.
func parseDeviceTable(raw string) (map[string]string, error) {
	table := make(map[string]string)
	for _, entry := range splitAndTrim(raw) {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid device entry %q", entry)
		}
		table[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return table, nil
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePositiveMillis(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
