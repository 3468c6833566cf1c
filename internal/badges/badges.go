// Package badges evaluates achievement rules over a user's encounter
// history and unlocks each badge exactly once.
package badges

import (
	"context"
	"time"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
)

// Badge is a static catalog entry describing an achievement.
type Badge struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// BadgeUnlock records that a user earned a badge. At most one exists per
// (user, badge) pair.
type BadgeUnlock struct {
	ID         string
	UserID     string
	BadgeID    string
	AchievedAt time.Time
}

// PredicateKind names one of the aggregate statistics an unlock rule can
// be compared against.
type PredicateKind string

const (
	PredTotalEncounters    PredicateKind = "total_encounters"
	PredUniqueToday        PredicateKind = "unique_counterparts_today"
	PredNightEncounters    PredicateKind = "night_encounters"
	PredMorningEncounters  PredicateKind = "morning_encounters"
	PredDistinctEmotions   PredicateKind = "distinct_emotions"
	PredMetPeakEmotion     PredicateKind = "met_peak_emotion"
	PredSameCounterpart    PredicateKind = "same_counterpart"
	PredCounterpartEmotion PredicateKind = "counterpart_emotion"
)

// Local-time hour windows used by the night and morning statistics.
const (
	NightFromHour   = 22
	NightToHour     = 6
	MorningFromHour = 6
	MorningToHour   = 9
)

// Rule binds a badge to a predicate and its threshold. Rules are evaluated
// in catalog order, every rule on every call.
type Rule struct {
	Badge     Badge         `yaml:",inline"`
	Predicate PredicateKind `yaml:"predicate"`
	Threshold int           `yaml:"threshold"`
	// Emotion parameterizes counterpart_emotion rules.
	Emotion emotion.ID `yaml:"emotion"`
}

// Stats is the read-only query surface over the persisted encounter log.
// Each call is a pure aggregate; implementations live in the store.
type Stats interface {
	TotalEncounters(ctx context.Context, userID string) (int, error)
	UniqueCounterpartsOn(ctx context.Context, userID string, day time.Time) (int, error)
	// EncountersBetweenHours counts encounters whose local hour falls in
	// [fromHour, toHour); fromHour > toHour selects the wrap-around window.
	EncountersBetweenHours(ctx context.Context, userID string, fromHour, toHour int) (int, error)
	DistinctCounterpartEmotions(ctx context.Context, userID string) (int, error)
	MetCounterpartEmotion(ctx context.Context, userID string, id emotion.ID) (bool, error)
	EncountersWith(ctx context.Context, userID, otherUserID string) (int, error)
	EncountersWithCounterpartEmotion(ctx context.Context, userID string, id emotion.ID) (int, error)
}

// UnlockStore persists the unlock set.
type UnlockStore interface {
	UnlockedBadgeIDs(ctx context.Context, userID string) (map[string]bool, error)
	RecordUnlock(ctx context.Context, unlock BadgeUnlock) error
}
