package badges

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
)

// DefaultCatalog returns the built-in ordered rule table. Order matters:
// unlocks are evaluated and written in this sequence.
func DefaultCatalog() []Rule {
	return []Rule{
		{
			Badge:     Badge{ID: "first-contact", Name: "First Contact", Description: "Meet another walker for the first time."},
			Predicate: PredTotalEncounters,
			Threshold: 1,
		},
		{
			Badge:     Badge{ID: "ten-encounters", Name: "Familiar Faces", Description: "Record ten encounters in total."},
			Predicate: PredTotalEncounters,
			Threshold: 10,
		},
		{
			Badge:     Badge{ID: "social-day", Name: "Social Butterfly", Description: "Meet five different walkers in a single day."},
			Predicate: PredUniqueToday,
			Threshold: 5,
		},
		{
			Badge:     Badge{ID: "night-owl", Name: "Night Owl", Description: "Meet three walkers between 22:00 and 06:00."},
			Predicate: PredNightEncounters,
			Threshold: 3,
		},
		{
			Badge:     Badge{ID: "early-bird", Name: "Early Bird", Description: "Meet three walkers between 06:00 and 09:00."},
			Predicate: PredMorningEncounters,
			Threshold: 3,
		},
		{
			Badge:     Badge{ID: "mood-collector", Name: "Mood Collector", Description: "Encounter every expression at least once."},
			Predicate: PredDistinctEmotions,
			Threshold: 5,
		},
		{
			Badge:     Badge{ID: "storm-chaser", Name: "Storm Chaser", Description: "Cross paths with someone at full pace."},
			Predicate: PredMetPeakEmotion,
			Threshold: 1,
		},
		{
			Badge:     Badge{ID: "walking-buddy", Name: "Walking Buddy", Description: "Meet the same walker five times."},
			Predicate: PredSameCounterpart,
			Threshold: 5,
		},
		{
			Badge:     Badge{ID: "calm-company", Name: "Calm Company", Description: "Meet five walkers who were taking it easy."},
			Predicate: PredCounterpartEmotion,
			Threshold: 5,
			Emotion:   emotion.Calm,
		},
	}
}

// catalogFile mirrors the YAML layout of an external badge catalog.
type catalogFile struct {
	Badges []Rule `yaml:"badges"`
}

// LoadCatalog reads an ordered rule table from a YAML file. An empty path
// yields the built-in catalog.
func LoadCatalog(path string) ([]Rule, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read badge catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse badge catalog: %w", err)
	}
	if len(file.Badges) == 0 {
		return nil, fmt.Errorf("badge catalog %s defines no badges", path)
	}
	seen := make(map[string]bool, len(file.Badges))
	for i, rule := range file.Badges {
		if err := validateRule(rule); err != nil {
			return nil, fmt.Errorf("badge catalog entry %d: %w", i, err)
		}
		if seen[rule.Badge.ID] {
			return nil, fmt.Errorf("badge catalog entry %d: duplicate id %s", i, rule.Badge.ID)
		}
		seen[rule.Badge.ID] = true
	}
	return file.Badges, nil
}

func validateRule(r Rule) error {
	if r.Badge.ID == "" {
		return fmt.Errorf("badge id must not be empty")
	}
	if r.Threshold <= 0 {
		return fmt.Errorf("badge %s: threshold must be positive", r.Badge.ID)
	}
	switch r.Predicate {
	case PredTotalEncounters, PredUniqueToday, PredNightEncounters, PredMorningEncounters,
		PredDistinctEmotions, PredMetPeakEmotion, PredSameCounterpart, PredCounterpartEmotion:
		return nil
	default:
		return fmt.Errorf("badge %s: unknown predicate %q", r.Badge.ID, r.Predicate)
	}
}
