// Package httpapi exposes the read-side query surface of the companion
// core: current speed, history, rules, badges, and encounter
// acknowledgement, plus health and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/badges"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/store"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/telemetry"
)

// Store captures the persistence reads and the single acknowledgement
// write the API performs.
type Store interface {
	HistoryFor(ctx context.Context, userID string, limit int) ([]telemetry.HistoryRecord, error)
	RulesFor(ctx context.Context, userID string) ([]emotion.SpeedRule, error)
	ReplaceRules(ctx context.Context, userID string, rules []emotion.SpeedRule) error
	UnlocksFor(ctx context.Context, userID string) ([]badges.BadgeUnlock, error)
	EncountersFor(ctx context.Context, userID string, limit int) ([]store.Encounter, error)
	ConfirmEncounter(ctx context.Context, id string) error
}

// SpeedSource reports the latest instantaneous speed observed by the
// tracker.
type SpeedSource interface {
	Current() (speedKmh float64, at time.Time, ok bool)
}

// Observer accepts raw speed samples from the location source.
type Observer interface {
	Observe(s telemetry.SpeedSample)
}

// Server bundles the routed dependencies.
type Server struct {
	store    Store
	speed    SpeedSource
	observer Observer
	catalog  []badges.Rule
	log      *slog.Logger
}

// NewHandler builds the routed and middleware-wrapped HTTP handler.
func NewHandler(st Store, speed SpeedSource, observer Observer, catalog []badges.Rule, log *slog.Logger) (http.Handler, error) {
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	s := &Server{store: st, speed: speed, observer: observer, catalog: catalog, log: log.With(slog.String("component", "http"))}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/speed/current", s.currentSpeed).Methods(http.MethodGet)
	api.HandleFunc("/speed/samples", s.postSample).Methods(http.MethodPost)
	api.HandleFunc("/badges", s.listBadges).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}/history", s.listHistory).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}/rules", s.listRules).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}/rules", s.putRules).Methods(http.MethodPut)
	api.HandleFunc("/users/{userId}/badges", s.listUnlocks).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}/encounters", s.listEncounters).Methods(http.MethodGet)
	api.HandleFunc("/encounters/{id}/confirm", s.confirmEncounter).Methods(http.MethodPost)

	wrapped := handlers.RecoveryHandler(handlers.RecoveryLogger(&recoveryLogger{log: s.log}))(r)
	return s.logRequests(wrapped), nil
}

// recoveryLogger adapts slog to the gorilla recovery middleware.
type recoveryLogger struct {
	log *slog.Logger
}

func (l *recoveryLogger) Println(v ...interface{}) {
	l.log.Error("http_panic_recovered", slog.Any("detail", v))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type speedResponse struct {
	SpeedKmh   float64   `json:"speedKmh"`
	ObservedAt time.Time `json:"observedAt"`
}

func (s *Server) currentSpeed(w http.ResponseWriter, _ *http.Request) {
	if s.speed == nil {
		http.Error(w, "no active tracking session", http.StatusServiceUnavailable)
		return
	}
	v, at, ok := s.speed.Current()
	if !ok {
		http.Error(w, "no sample observed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, speedResponse{SpeedKmh: v, ObservedAt: at})
}

type sampleBody struct {
	SpeedKmh   float64   `json:"speedKmh"`
	CapturedAt time.Time `json:"capturedAt"`
}

// postSample forwards a raw location-source sample into the tracker.
// Out-of-range values are a filtering policy inside the tracker, so the
// endpoint always accepts well-formed payloads.
func (s *Server) postSample(w http.ResponseWriter, r *http.Request) {
	if s.observer == nil {
		http.Error(w, "no active tracking session", http.StatusServiceUnavailable)
		return
	}
	var body sampleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid sample payload", http.StatusBadRequest)
		return
	}
	if body.CapturedAt.IsZero() {
		body.CapturedAt = time.Now()
	}
	s.observer.Observe(telemetry.SpeedSample{SpeedKmh: body.SpeedKmh, CapturedAt: body.CapturedAt})
	w.WriteHeader(http.StatusAccepted)
}

type badgeResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) listBadges(w http.ResponseWriter, _ *http.Request) {
	out := make([]badgeResponse, 0, len(s.catalog))
	for _, rule := range s.catalog {
		out = append(out, badgeResponse{ID: rule.Badge.ID, Name: rule.Badge.Name, Description: rule.Badge.Description})
	}
	writeJSON(w, http.StatusOK, out)
}

type historyResponse struct {
	WindowStart  time.Time `json:"windowStart"`
	AverageSpeed float64   `json:"averageSpeedKmh"`
	EmotionID    int       `json:"emotionId"`
	Emotion      string    `json:"emotion"`
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	recs, err := s.store.HistoryFor(r.Context(), userID, 0)
	if err != nil {
		s.fail(w, "history_query_failed", err)
		return
	}
	out := make([]historyResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, historyResponse{
			WindowStart:  rec.WindowStart,
			AverageSpeed: rec.AverageSpeed,
			EmotionID:    int(rec.Emotion),
			Emotion:      rec.Emotion.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type ruleBody struct {
	MinSpeed  float64 `json:"minSpeed"`
	MaxSpeed  float64 `json:"maxSpeed"`
	EmotionID int     `json:"emotionId"`
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	rules, err := s.store.RulesFor(r.Context(), userID)
	if err != nil {
		s.fail(w, "rules_query_failed", err)
		return
	}
	out := make([]ruleBody, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ruleBody{MinSpeed: rule.MinSpeed, MaxSpeed: rule.MaxSpeed, EmotionID: int(rule.Emotion)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) putRules(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var body []ruleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid rule payload", http.StatusBadRequest)
		return
	}
	rules := make([]emotion.SpeedRule, 0, len(body))
	for _, b := range body {
		if b.MinSpeed > b.MaxSpeed {
			http.Error(w, "minSpeed must not exceed maxSpeed", http.StatusBadRequest)
			return
		}
		rules = append(rules, emotion.SpeedRule{
			UserID:   userID,
			MinSpeed: b.MinSpeed,
			MaxSpeed: b.MaxSpeed,
			Emotion:  emotion.ID(b.EmotionID),
		})
	}
	if err := s.store.ReplaceRules(r.Context(), userID, rules); err != nil {
		s.fail(w, "rules_update_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rules": len(rules)})
}

type unlockResponse struct {
	BadgeID    string    `json:"badgeId"`
	AchievedAt time.Time `json:"achievedAt"`
}

func (s *Server) listUnlocks(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	unlocks, err := s.store.UnlocksFor(r.Context(), userID)
	if err != nil {
		s.fail(w, "unlocks_query_failed", err)
		return
	}
	out := make([]unlockResponse, 0, len(unlocks))
	for _, u := range unlocks {
		out = append(out, unlockResponse{BadgeID: u.BadgeID, AchievedAt: u.AchievedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

type encounterResponse struct {
	ID             string    `json:"id"`
	OtherUserID    string    `json:"otherUserId"`
	Timestamp      time.Time `json:"timestamp"`
	EmotionID      int       `json:"emotionId"`
	OtherEmotionID int       `json:"otherEmotionId"`
	Confirmed      bool      `json:"confirmed"`
}

func (s *Server) listEncounters(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	events, err := s.store.EncountersFor(r.Context(), userID, 0)
	if err != nil {
		s.fail(w, "encounters_query_failed", err)
		return
	}
	out := make([]encounterResponse, 0, len(events))
	for _, e := range events {
		out = append(out, encounterResponse{
			ID:             e.ID,
			OtherUserID:    e.OtherUserID,
			Timestamp:      e.Timestamp,
			EmotionID:      int(e.Emotion),
			OtherEmotionID: int(e.OtherEmotion),
			Confirmed:      e.Confirmed,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) confirmEncounter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.ConfirmEncounter(r.Context(), id); err != nil {
		s.fail(w, "encounter_confirm_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "confirmed"})
}

func (s *Server) fail(w http.ResponseWriter, event string, err error) {
	s.log.Error(event, slog.Any("err", err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
