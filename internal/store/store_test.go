package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/badges"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/telemetry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "companion.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func addEncounter(t *testing.T, st *Store, userID, other string, at time.Time, otherEmotion emotion.ID) string {
	t.Helper()
	e := Encounter{
		ID:           uuid.NewString(),
		UserID:       userID,
		OtherUserID:  other,
		Timestamp:    at,
		Emotion:      emotion.Neutral,
		OtherEmotion: otherEmotion,
	}
	if err := st.RecordEncounter(context.Background(), e); err != nil {
		t.Fatalf("record encounter: %v", err)
	}
	return e.ID
}

// localTime builds an instant at the given local wall-clock hour so the
// calendar-window statistics see exactly that hour.
func localTime(day time.Time, hour, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, time.Local)
}

func TestHistoryRoundTripNewestFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := telemetry.HistoryRecord{
			UserID:       "walker-1",
			WindowStart:  base.Add(time.Duration(i) * time.Minute),
			AverageSpeed: float64(i) + 1.5,
			Emotion:      emotion.Happy,
		}
		if err := st.AppendHistory(ctx, rec); err != nil {
			t.Fatalf("append history: %v", err)
		}
	}

	recs, err := st.HistoryFor(ctx, "walker-1", 10)
	if err != nil {
		t.Fatalf("history query: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if !recs[0].WindowStart.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("expected newest first, got %v", recs[0].WindowStart)
	}
	if recs[0].AverageSpeed != 3.5 || recs[0].Emotion != emotion.Happy {
		t.Fatalf("record fields not preserved: %+v", recs[0])
	}
}

func TestAppendHistoryRejectsDuplicateWindow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec := telemetry.HistoryRecord{
		UserID:       "walker-1",
		WindowStart:  time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		AverageSpeed: 4.0,
		Emotion:      emotion.Calm,
	}
	if err := st.AppendHistory(ctx, rec); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := st.AppendHistory(ctx, rec); err == nil {
		t.Fatalf("expected duplicate window to conflict")
	}
}

func TestReplaceRulesPreservesOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rules := []emotion.SpeedRule{
		{UserID: "walker-1", MinSpeed: 0, MaxSpeed: 2, Emotion: emotion.Calm},
		{UserID: "walker-1", MinSpeed: 0, MaxSpeed: 8, Emotion: emotion.Happy},
		{UserID: "walker-1", MinSpeed: 8, MaxSpeed: 15, Emotion: emotion.Frantic},
	}
	if err := st.ReplaceRules(ctx, "walker-1", rules); err != nil {
		t.Fatalf("replace rules: %v", err)
	}

	got, err := st.RulesFor(ctx, "walker-1")
	if err != nil {
		t.Fatalf("rules query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(got))
	}
	for i := range rules {
		if got[i].MinSpeed != rules[i].MinSpeed || got[i].MaxSpeed != rules[i].MaxSpeed || got[i].Emotion != rules[i].Emotion {
			t.Fatalf("rule %d order not preserved: %+v", i, got[i])
		}
	}

	// A second replace fully supersedes the first set.
	if err := st.ReplaceRules(ctx, "walker-1", rules[:1]); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	got, err = st.RulesFor(ctx, "walker-1")
	if err != nil {
		t.Fatalf("rules query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected replaced set of 1 rule, got %d", len(got))
	}
}

func TestConfirmEncounter(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id := addEncounter(t, st, "walker-1", "walker-2", time.Now(), emotion.Happy)
	if err := st.ConfirmEncounter(ctx, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	list, err := st.EncountersFor(ctx, "walker-1", 10)
	if err != nil {
		t.Fatalf("encounters query: %v", err)
	}
	if len(list) != 1 || !list[0].Confirmed {
		t.Fatalf("expected confirmed encounter, got %+v", list)
	}

	if err := st.ConfirmEncounter(ctx, "missing-id"); err == nil {
		t.Fatalf("expected unknown encounter id to fail")
	}
}

func TestTotalAndPerCounterpartCounts(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	addEncounter(t, st, "walker-1", "walker-2", now, emotion.Happy)
	addEncounter(t, st, "walker-1", "walker-2", now.Add(time.Minute), emotion.Calm)
	addEncounter(t, st, "walker-1", "walker-3", now.Add(2*time.Minute), emotion.Calm)
	addEncounter(t, st, "walker-9", "walker-2", now, emotion.Calm)

	total, err := st.TotalEncounters(ctx, "walker-1")
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 encounters for walker-1, got %d", total)
	}

	with, err := st.EncountersWith(ctx, "walker-1", "walker-2")
	if err != nil {
		t.Fatalf("encounters with: %v", err)
	}
	if with != 2 {
		t.Fatalf("expected 2 encounters with walker-2, got %d", with)
	}
}

func TestUniqueCounterpartsOnCalendarDay(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.Local)
	addEncounter(t, st, "walker-1", "walker-2", localTime(day, 8, 0), emotion.Happy)
	addEncounter(t, st, "walker-1", "walker-2", localTime(day, 18, 0), emotion.Happy)
	addEncounter(t, st, "walker-1", "walker-3", localTime(day, 12, 0), emotion.Calm)
	// Day before and day after must not count.
	addEncounter(t, st, "walker-1", "walker-4", localTime(day.AddDate(0, 0, -1), 12, 0), emotion.Calm)
	addEncounter(t, st, "walker-1", "walker-5", localTime(day.AddDate(0, 0, 1), 0, 30), emotion.Calm)

	n, err := st.UniqueCounterpartsOn(ctx, "walker-1", localTime(day, 15, 0))
	if err != nil {
		t.Fatalf("unique counterparts: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 unique counterparts on the day, got %d", n)
	}
}

func TestEncountersBetweenHoursNightWindowWraps(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.Local)

	addEncounter(t, st, "walker-1", "walker-2", localTime(day, 23, 30), emotion.Happy)
	addEncounter(t, st, "walker-1", "walker-3", localTime(day, 2, 15), emotion.Happy)
	addEncounter(t, st, "walker-1", "walker-4", localTime(day, 5, 59), emotion.Happy)
	// Boundary: 06:00 belongs to the morning window, not the night one.
	addEncounter(t, st, "walker-1", "walker-5", localTime(day, 6, 0), emotion.Happy)
	addEncounter(t, st, "walker-1", "walker-6", localTime(day, 10, 0), emotion.Happy)

	night, err := st.EncountersBetweenHours(ctx, "walker-1", badges.NightFromHour, badges.NightToHour)
	if err != nil {
		t.Fatalf("night count: %v", err)
	}
	if night != 3 {
		t.Fatalf("expected 3 night encounters, got %d", night)
	}

	morning, err := st.EncountersBetweenHours(ctx, "walker-1", badges.MorningFromHour, badges.MorningToHour)
	if err != nil {
		t.Fatalf("morning count: %v", err)
	}
	if morning != 1 {
		t.Fatalf("expected 1 morning encounter, got %d", morning)
	}
}

func TestDistinctAndSpecificCounterpartEmotions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	addEncounter(t, st, "walker-1", "walker-2", now, emotion.Calm)
	addEncounter(t, st, "walker-1", "walker-3", now.Add(time.Minute), emotion.Calm)
	addEncounter(t, st, "walker-1", "walker-4", now.Add(2*time.Minute), emotion.Happy)

	distinct, err := st.DistinctCounterpartEmotions(ctx, "walker-1")
	if err != nil {
		t.Fatalf("distinct emotions: %v", err)
	}
	if distinct != 2 {
		t.Fatalf("expected 2 distinct counterpart emotions, got %d", distinct)
	}

	met, err := st.MetCounterpartEmotion(ctx, "walker-1", emotion.Frantic)
	if err != nil {
		t.Fatalf("met emotion: %v", err)
	}
	if met {
		t.Fatalf("frantic counterpart never recorded")
	}
	met, err = st.MetCounterpartEmotion(ctx, "walker-1", emotion.Happy)
	if err != nil {
		t.Fatalf("met emotion: %v", err)
	}
	if !met {
		t.Fatalf("expected happy counterpart to be found")
	}

	calmCount, err := st.EncountersWithCounterpartEmotion(ctx, "walker-1", emotion.Calm)
	if err != nil {
		t.Fatalf("emotion count: %v", err)
	}
	if calmCount != 2 {
		t.Fatalf("expected 2 calm counterparts, got %d", calmCount)
	}
}

func TestUnlockRoundTripAndDuplicateBackstop(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	u := badges.BadgeUnlock{
		ID:         uuid.NewString(),
		UserID:     "walker-1",
		BadgeID:    "first-contact",
		AchievedAt: time.Date(2025, 3, 14, 9, 1, 0, 0, time.UTC),
	}
	if err := st.RecordUnlock(ctx, u); err != nil {
		t.Fatalf("record unlock: %v", err)
	}

	set, err := st.UnlockedBadgeIDs(ctx, "walker-1")
	if err != nil {
		t.Fatalf("unlock set: %v", err)
	}
	if !set["first-contact"] || len(set) != 1 {
		t.Fatalf("unexpected unlock set %v", set)
	}

	list, err := st.UnlocksFor(ctx, "walker-1")
	if err != nil {
		t.Fatalf("unlocks query: %v", err)
	}
	if len(list) != 1 || list[0].BadgeID != "first-contact" || !list[0].AchievedAt.Equal(u.AchievedAt) {
		t.Fatalf("unlock not preserved: %+v", list)
	}

	dup := u
	dup.ID = uuid.NewString()
	if err := st.RecordUnlock(ctx, dup); err == nil {
		t.Fatalf("expected (user, badge) primary key to reject duplicate unlock")
	}
}
