// Package app wires configuration, logging, storage, the telemetry
// pipeline, the actuator link, badge evaluation, and the HTTP surface into
// one process with graceful shutdown handling.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/actuator"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/badges"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/config"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/httpapi"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/ingest"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/store"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/telemetry"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/uibridge"
)

// speedGauge holds the latest instantaneous speed for the HTTP surface.
type speedGauge struct {
	mu  sync.Mutex
	v   float64
	at  time.Time
	set bool
}

func (g *speedGauge) Set(v float64) {
	g.mu.Lock()
	g.v = v
	g.at = time.Now()
	g.set = true
	g.mu.Unlock()
}

func (g *speedGauge) Current() (float64, time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.v, g.at, g.set
}

// Application owns every long-lived component of the companion core.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	logFile *os.File

	db       *store.Store
	link     *actuator.Link
	tracker  *telemetry.Tracker
	consumer *ingest.EncounterConsumer
	ui       *uibridge.Publisher
	gauge    *speedGauge
	server   *http.Server
}

// New prepares a fully wired companion instance from the supplied
// configuration.
func New(cfg config.Config) (*Application, error) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return nil, errors.New("listen address cannot be empty")
	}
	logPath := filepath.Clean(cfg.LogFilePath)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger := newLogger(lf)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		_ = lf.Close()
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		_ = lf.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	catalog, err := badges.LoadCatalog(cfg.BadgeCatalogPath)
	if err != nil {
		_ = db.Close()
		_ = lf.Close()
		return nil, fmt.Errorf("badge catalog: %w", err)
	}
	engine, err := badges.NewEngine(catalog, db, db, emotion.ID(cfg.PeakEmotionID), logger)
	if err != nil {
		_ = db.Close()
		_ = lf.Close()
		return nil, fmt.Errorf("badge engine init: %w", err)
	}

	dialer := actuator.NewStreamDialer(cfg.DeviceAddresses, cfg.DeviceDialTimeout)
	link, err := actuator.NewLink(dialer, cfg.DeviceName, logger)
	if err != nil {
		_ = db.Close()
		_ = lf.Close()
		return nil, fmt.Errorf("actuator link init: %w", err)
	}

	classifier := emotion.NewClassifier(db)
	tracker, err := telemetry.NewTracker(cfg.UserID, db, classifier, link, logger)
	if err != nil {
		_ = db.Close()
		_ = lf.Close()
		return nil, fmt.Errorf("tracker init: %w", err)
	}

	consumer, err := ingest.NewEncounterConsumer(ingest.EncounterConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.EncounterTopic,
		GroupID:     cfg.EncounterGroupID,
		PollTimeout: cfg.EncounterPollTimeout,
	}, db, engine, logger)
	if err != nil {
		_ = db.Close()
		_ = lf.Close()
		return nil, fmt.Errorf("encounter consumer init: %w", err)
	}

	gauge := &speedGauge{}
	handler, err := httpapi.NewHandler(db, gauge, tracker, catalog, logger)
	if err != nil {
		_ = consumer.Close()
		_ = db.Close()
		_ = lf.Close()
		return nil, fmt.Errorf("http handler init: %w", err)
	}
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPWriteTimeout,
	}

	var ui *uibridge.Publisher
	if cfg.MQTTBroker != "" {
		ui, err = uibridge.NewPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic, cfg.UserID, logger)
		if err != nil {
			// The UI bridge is best-effort; the core keeps running without it.
			logger.Warn("ui_bridge_unavailable", slog.Any("err", err))
			ui = nil
		}
	}

	return &Application{
		cfg:      cfg,
		logger:   logger,
		logFile:  lf,
		db:       db,
		link:     link,
		tracker:  tracker,
		consumer: consumer,
		ui:       ui,
		gauge:    gauge,
		server:   server,
	}, nil
}

// Logger exposes the configured slog logger so main can emit structured
// logs after initialization.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// ObserveSpeed feeds one raw location-source sample into the tracker.
func (a *Application) ObserveSpeed(s telemetry.SpeedSample) {
	a.tracker.Observe(s)
}

// Run blocks until the context is cancelled or a subsystem terminates
// unexpectedly.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpCh := make(chan error, 1)
	go func() {
		a.logger.Info("http_server_listen", slog.String("address", a.cfg.ListenAddress))
		httpCh <- a.server.ListenAndServe()
	}()

	trackerCh := make(chan error, 1)
	go func() {
		trackerCh <- a.tracker.Run(ctx)
	}()

	consumerCh := make(chan error, 1)
	go func() {
		consumerCh <- a.consumer.Run(ctx)
	}()

	pumpDone := make(chan struct{})
	go a.pumpSpeedUpdates(ctx, pumpDone)

	var firstErr error
	record := func(err error, event string) {
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(event, slog.Any("err", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for httpCh != nil || trackerCh != nil || consumerCh != nil {
		select {
		case err := <-httpCh:
			httpCh = nil
			record(err, "http_server_error")
			cancel()
		case err := <-trackerCh:
			trackerCh = nil
			record(err, "tracker_error")
			cancel()
		case err := <-consumerCh:
			consumerCh = nil
			record(err, "consumer_error")
			cancel()
		case <-ctx.Done():
			a.logger.Info("shutdown_signal")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				record(fmt.Errorf("shutdown: %w", err), "server_shutdown_failed")
			}
			shutdownCancel()
			if httpCh != nil {
				record(<-httpCh, "http_server_error")
				httpCh = nil
			}
			if trackerCh != nil {
				record(<-trackerCh, "tracker_error")
				trackerCh = nil
			}
			if consumerCh != nil {
				record(<-consumerCh, "consumer_error")
				consumerCh = nil
			}
		}
	}
	<-pumpDone

	if firstErr != nil {
		return firstErr
	}
	a.logger.Info("shutdown_complete")
	return nil
}

// pumpSpeedUpdates fans the tracker's latest-value feed out to the HTTP
// gauge and the MQTT UI bridge. After cancellation it keeps draining
// briefly so the tracker's final zero sentinel still reaches the UI.
func (a *Application) pumpSpeedUpdates(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	forward := func(v float64) {
		a.gauge.Set(v)
		if a.ui != nil {
			_ = a.ui.Publish(v)
		}
	}
	for {
		select {
		case v := <-a.tracker.Updates():
			forward(v)
		case <-ctx.Done():
			for {
				select {
				case v := <-a.tracker.Updates():
					forward(v)
				case <-time.After(200 * time.Millisecond):
					return
				}
			}
		}
	}
}

// Close flushes and closes resources owned by the application instance.
func (a *Application) Close() error {
	var firstErr error
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.consumer = nil
	}
	if a.link != nil {
		if err := a.link.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.link = nil
	}
	if a.ui != nil {
		a.ui.Close()
		a.ui = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.db = nil
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.logFile = nil
	}
	return firstErr
}
