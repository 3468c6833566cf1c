package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/badges"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/store"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/telemetry"
)

type fakeStore struct {
	history    []telemetry.HistoryRecord
	rules      map[string][]emotion.SpeedRule
	unlocks    []badges.BadgeUnlock
	encounters []store.Encounter
	confirmed  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{rules: map[string][]emotion.SpeedRule{}}
}

func (s *fakeStore) HistoryFor(_ context.Context, _ string, _ int) ([]telemetry.HistoryRecord, error) {
	return s.history, nil
}

func (s *fakeStore) RulesFor(_ context.Context, userID string) ([]emotion.SpeedRule, error) {
	return s.rules[userID], nil
}

func (s *fakeStore) ReplaceRules(_ context.Context, userID string, rules []emotion.SpeedRule) error {
	s.rules[userID] = rules
	return nil
}

func (s *fakeStore) UnlocksFor(_ context.Context, _ string) ([]badges.BadgeUnlock, error) {
	return s.unlocks, nil
}

func (s *fakeStore) EncountersFor(_ context.Context, _ string, _ int) ([]store.Encounter, error) {
	return s.encounters, nil
}

func (s *fakeStore) ConfirmEncounter(_ context.Context, id string) error {
	s.confirmed = append(s.confirmed, id)
	return nil
}

type fakeSpeed struct {
	v  float64
	at time.Time
	ok bool
}

func (s *fakeSpeed) Current() (float64, time.Time, bool) { return s.v, s.at, s.ok }

type fakeObserver struct {
	samples []telemetry.SpeedSample
}

func (o *fakeObserver) Observe(s telemetry.SpeedSample) { o.samples = append(o.samples, s) }

func newTestHandler(t *testing.T, st Store, speed SpeedSource, observer Observer) http.Handler {
	t.Helper()
	h, err := NewHandler(st, speed, observer, badges.DefaultCatalog(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("handler init failed: %v", err)
	}
	return h
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, newFakeStore(), nil, nil)
	rec := doRequest(h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCurrentSpeed(t *testing.T) {
	speed := &fakeSpeed{v: 4.2, at: time.Date(2025, 3, 14, 9, 27, 0, 0, time.UTC), ok: true}
	h := newTestHandler(t, newFakeStore(), speed, nil)

	rec := doRequest(h, http.MethodGet, "/api/v1/speed/current", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		SpeedKmh float64 `json:"speedKmh"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.SpeedKmh != 4.2 {
		t.Fatalf("expected speed 4.2, got %v", body.SpeedKmh)
	}

	speed.ok = false
	rec = doRequest(h, http.MethodGet, "/api/v1/speed/current", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first sample, got %d", rec.Code)
	}
}

func TestCurrentSpeedWithoutSession(t *testing.T) {
	h := newTestHandler(t, newFakeStore(), nil, nil)
	rec := doRequest(h, http.MethodGet, "/api/v1/speed/current", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a session, got %d", rec.Code)
	}
}

func TestPostSampleForwardsToObserver(t *testing.T) {
	observer := &fakeObserver{}
	h := newTestHandler(t, newFakeStore(), nil, observer)

	rec := doRequest(h, http.MethodPost, "/api/v1/speed/samples", `{"speedKmh":3.5}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(observer.samples) != 1 || observer.samples[0].SpeedKmh != 3.5 {
		t.Fatalf("sample not forwarded: %+v", observer.samples)
	}
	if observer.samples[0].CapturedAt.IsZero() {
		t.Fatalf("missing capture time must be defaulted")
	}

	rec = doRequest(h, http.MethodPost, "/api/v1/speed/samples", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestListBadgesReturnsCatalog(t *testing.T) {
	h := newTestHandler(t, newFakeStore(), nil, nil)

	rec := doRequest(h, http.MethodGet, "/api/v1/badges", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body) != len(badges.DefaultCatalog()) {
		t.Fatalf("expected full catalog, got %d entries", len(body))
	}
	if body[0].ID != "first-contact" {
		t.Fatalf("catalog order must be preserved, got %s first", body[0].ID)
	}
}

func TestRulesRoundTrip(t *testing.T) {
	st := newFakeStore()
	h := newTestHandler(t, st, nil, nil)

	put := `[{"minSpeed":0,"maxSpeed":2,"emotionId":1},{"minSpeed":2,"maxSpeed":8,"emotionId":2}]`
	rec := doRequest(h, http.MethodPut, "/api/v1/users/walker-1/rules", put)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(st.rules["walker-1"]) != 2 {
		t.Fatalf("rules not stored: %+v", st.rules)
	}
	if st.rules["walker-1"][0].Emotion != emotion.Calm {
		t.Fatalf("rule emotion not mapped: %+v", st.rules["walker-1"][0])
	}

	rec = doRequest(h, http.MethodGet, "/api/v1/users/walker-1/rules", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body []struct {
		MaxSpeed float64 `json:"maxSpeed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body) != 2 || body[1].MaxSpeed != 8 {
		t.Fatalf("rules not returned in order: %+v", body)
	}
}

func TestPutRulesRejectsInvertedBounds(t *testing.T) {
	h := newTestHandler(t, newFakeStore(), nil, nil)
	rec := doRequest(h, http.MethodPut, "/api/v1/users/walker-1/rules", `[{"minSpeed":5,"maxSpeed":2,"emotionId":1}]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted bounds, got %d", rec.Code)
	}
}

func TestListHistory(t *testing.T) {
	st := newFakeStore()
	st.history = []telemetry.HistoryRecord{{
		UserID:       "walker-1",
		WindowStart:  time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC),
		AverageSpeed: 4.0,
		Emotion:      emotion.Happy,
	}}
	h := newTestHandler(t, st, nil, nil)

	rec := doRequest(h, http.MethodGet, "/api/v1/users/walker-1/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body []struct {
		Emotion   string  `json:"emotion"`
		EmotionID int     `json:"emotionId"`
		Average   float64 `json:"averageSpeedKmh"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body) != 1 || body[0].EmotionID != 2 || body[0].Emotion != emotion.Happy.String() {
		t.Fatalf("history payload wrong: %+v", body)
	}
}

func TestConfirmEncounter(t *testing.T) {
	st := newFakeStore()
	h := newTestHandler(t, st, nil, nil)

	rec := doRequest(h, http.MethodPost, "/api/v1/encounters/e-42/confirm", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(st.confirmed) != 1 || st.confirmed[0] != "e-42" {
		t.Fatalf("confirmation not forwarded: %v", st.confirmed)
	}
}
