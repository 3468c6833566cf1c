package store

import (
	"context"
	"fmt"
	"time"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
)

// The statistics below implement the badge engine's query surface. The
// calendar-window aggregates scan timestamps in Go rather than relying on
// the database's timezone handling, so "today" and the night/morning
// windows follow the process-local timezone exactly. A user's encounter
// log stays small enough that the linear scan is acceptable.

// TotalEncounters counts every encounter ever recorded for the user.
func (s *Store) TotalEncounters(ctx context.Context, userID string) (int, error) {
	return s.countEncounters(ctx, `SELECT COUNT(*) FROM encounters WHERE user_id = ?`, userID)
}

// UniqueCounterpartsOn counts distinct counterparts met on the local
// calendar day containing the supplied instant.
func (s *Store) UniqueCounterpartsOn(ctx context.Context, userID string, day time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT other_user_id, ts FROM encounters WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("query counterparts: %w", err)
	}
	defer rows.Close()

	y, m, d := day.Local().Date()
	seen := make(map[string]bool)
	for rows.Next() {
		var other string
		var ts int64
		if err := rows.Scan(&other, &ts); err != nil {
			return 0, fmt.Errorf("scan counterpart: %w", err)
		}
		ey, em, ed := time.Unix(ts, 0).Local().Date()
		if ey == y && em == m && ed == d {
			seen[other] = true
		}
	}
	return len(seen), rows.Err()
}

// EncountersBetweenHours counts encounters whose local hour falls in
// [fromHour, toHour); fromHour > toHour selects the window wrapping over
// midnight, e.g. 22 → 6 for the night statistic.
func (s *Store) EncountersBetweenHours(ctx context.Context, userID string, fromHour, toHour int) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts FROM encounters WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("query encounter times: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return 0, fmt.Errorf("scan encounter time: %w", err)
		}
		hour := time.Unix(ts, 0).Local().Hour()
		if hourInWindow(hour, fromHour, toHour) {
			count++
		}
	}
	return count, rows.Err()
}

func hourInWindow(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour < to
	}
	return hour >= from || hour < to
}

// DistinctCounterpartEmotions counts how many different expressions the
// user's counterparts have ever shown.
func (s *Store) DistinctCounterpartEmotions(ctx context.Context, userID string) (int, error) {
	return s.countEncounters(ctx,
		`SELECT COUNT(DISTINCT other_emotion) FROM encounters WHERE user_id = ?`, userID)
}

// MetCounterpartEmotion reports whether the user ever encountered a
// counterpart showing the given expression.
func (s *Store) MetCounterpartEmotion(ctx context.Context, userID string, id emotion.ID) (bool, error) {
	n, err := s.countEncounters(ctx,
		`SELECT COUNT(*) FROM encounters WHERE user_id = ? AND other_emotion = ?`, userID, int(id))
	return n > 0, err
}

// EncountersWith counts encounters with one specific counterpart.
func (s *Store) EncountersWith(ctx context.Context, userID, otherUserID string) (int, error) {
	return s.countEncounters(ctx,
		`SELECT COUNT(*) FROM encounters WHERE user_id = ? AND other_user_id = ?`, userID, otherUserID)
}

// EncountersWithCounterpartEmotion counts encounters where the counterpart
// showed the given expression.
func (s *Store) EncountersWithCounterpartEmotion(ctx context.Context, userID string, id emotion.ID) (int, error) {
	return s.countEncounters(ctx,
		`SELECT COUNT(*) FROM encounters WHERE user_id = ? AND other_emotion = ?`, userID, int(id))
}

func (s *Store) countEncounters(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count encounters: %w", err)
	}
	return n, nil
}
