package badges

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/metrics"
)

// Engine evaluates the badge catalog against a user's encounter history.
// It assumes a single writer per user; the existence check immediately
// before each insert keeps unlocks idempotent across repeated evaluations.
type Engine struct {
	catalog []Rule
	stats   Stats
	unlocks UnlockStore
	peak    emotion.ID
	log     *slog.Logger
	now     func() time.Time
}

// NewEngine wires the engine. peak names the expression that satisfies
// met_peak_emotion rules.
func NewEngine(catalog []Rule, stats Stats, unlocks UnlockStore, peak emotion.ID, log *slog.Logger) (*Engine, error) {
	if len(catalog) == 0 {
		return nil, errors.New("badge catalog must not be empty")
	}
	if stats == nil {
		return nil, errors.New("stats source must not be nil")
	}
	if unlocks == nil {
		return nil, errors.New("unlock store must not be nil")
	}
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	rules := make([]Rule, len(catalog))
	copy(rules, catalog)
	return &Engine{
		catalog: rules,
		stats:   stats,
		unlocks: unlocks,
		peak:    peak,
		log:     log.With(slog.String("component", "badge_engine")),
		now:     time.Now,
	}, nil
}

// Catalog returns a copy of the ordered rule table.
func (e *Engine) Catalog() []Rule {
	out := make([]Rule, len(e.catalog))
	copy(out, e.catalog)
	return out
}

// Evaluate runs every catalog rule for the user after a new encounter with
// otherUserID was recorded. Newly satisfied badges not yet in the unlock
// set get exactly one unlock record each; already unlocked badges produce
// no write. A statistics or store error aborts the call, which is safe
// because the next encounter re-evaluates everything.
func (e *Engine) Evaluate(ctx context.Context, userID, otherUserID string) ([]BadgeUnlock, error) {
	unlocked, err := e.unlocks.UnlockedBadgeIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load unlock set for %s: %w", userID, err)
	}

	var awarded []BadgeUnlock
	for _, rule := range e.catalog {
		ok, err := e.satisfied(ctx, rule, userID, otherUserID)
		if err != nil {
			return awarded, fmt.Errorf("badge %s: %w", rule.Badge.ID, err)
		}
		if !ok || unlocked[rule.Badge.ID] {
			continue
		}
		unlock := BadgeUnlock{
			ID:         uuid.NewString(),
			UserID:     userID,
			BadgeID:    rule.Badge.ID,
			AchievedAt: e.now().UTC(),
		}
		if err := e.unlocks.RecordUnlock(ctx, unlock); err != nil {
			return awarded, fmt.Errorf("record unlock %s: %w", rule.Badge.ID, err)
		}
		unlocked[rule.Badge.ID] = true
		awarded = append(awarded, unlock)
		metrics.IncBadgeUnlocked(rule.Badge.ID)
		e.log.Info("badge_unlocked",
			slog.String("userId", userID),
			slog.String("badgeId", rule.Badge.ID),
			slog.Time("achievedAt", unlock.AchievedAt),
		)
	}
	return awarded, nil
}

// satisfied computes the rule's statistic and compares it to the threshold.
func (e *Engine) satisfied(ctx context.Context, rule Rule, userID, otherUserID string) (bool, error) {
	switch rule.Predicate {
	case PredTotalEncounters:
		n, err := e.stats.TotalEncounters(ctx, userID)
		return err == nil && n >= rule.Threshold, err
	case PredUniqueToday:
		n, err := e.stats.UniqueCounterpartsOn(ctx, userID, e.now())
		return err == nil && n >= rule.Threshold, err
	case PredNightEncounters:
		n, err := e.stats.EncountersBetweenHours(ctx, userID, NightFromHour, NightToHour)
		return err == nil && n >= rule.Threshold, err
	case PredMorningEncounters:
		n, err := e.stats.EncountersBetweenHours(ctx, userID, MorningFromHour, MorningToHour)
		return err == nil && n >= rule.Threshold, err
	case PredDistinctEmotions:
		n, err := e.stats.DistinctCounterpartEmotions(ctx, userID)
		return err == nil && n >= rule.Threshold, err
	case PredMetPeakEmotion:
		met, err := e.stats.MetCounterpartEmotion(ctx, userID, e.peak)
		return err == nil && met, err
	case PredSameCounterpart:
		n, err := e.stats.EncountersWith(ctx, userID, otherUserID)
		return err == nil && n >= rule.Threshold, err
	case PredCounterpartEmotion:
		n, err := e.stats.EncountersWithCounterpartEmotion(ctx, userID, rule.Emotion)
		return err == nil && n >= rule.Threshold, err
	default:
		return false, fmt.Errorf("unknown predicate %q", rule.Predicate)
	}
}
