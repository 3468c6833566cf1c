package emotion

import (
	"context"
	"fmt"
)

// SpeedRule maps an inclusive average-speed range to an expression. Rules
// are user-editable and ordered; overlapping ranges are allowed and express
// priority through their position.
type SpeedRule struct {
	UserID   string
	MinSpeed float64
	MaxSpeed float64
	Emotion  ID
}

// RuleSource loads the ordered rule set for a user. The returned slice is
// treated as a read-only snapshot for the duration of one classification.
type RuleSource interface {
	RulesFor(ctx context.Context, userID string) ([]SpeedRule, error)
}

// Classifier resolves an aggregated speed to an expression using the
// user's rules. It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	rules RuleSource
}

func NewClassifier(rules RuleSource) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the emotion of the first rule whose [MinSpeed, MaxSpeed]
// range contains averageSpeed, scanning in definition order. Bounds are
// inclusive. When no rule matches, Neutral is returned.
func (c *Classifier) Classify(ctx context.Context, userID string, averageSpeed float64) (ID, error) {
	rules, err := c.rules.RulesFor(ctx, userID)
	if err != nil {
		return Neutral, fmt.Errorf("load rules for %s: %w", userID, err)
	}
	return Match(rules, averageSpeed), nil
}

// Match applies first-match-wins over an already loaded rule snapshot.
func Match(rules []SpeedRule, averageSpeed float64) ID {
	for _, r := range rules {
		if averageSpeed >= r.MinSpeed && averageSpeed <= r.MaxSpeed {
			return r.Emotion
		}
	}
	return Neutral
}
