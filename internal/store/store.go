// Package store implements the persistence contracts the engine depends
// on over an embedded SQLite database: the append-only speed history, the
// per-user rule sets, the encounter log, and the badge unlock set.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/badges"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/emotion"
	"github.com/S3S225YaSy/Pace-Face-Code-sub000/internal/telemetry"
)

// Encounter is one detected proximity event between two users, carrying
// both expressions at that moment. Rows are append-only; only the
// Confirmed read-acknowledgement flag is ever updated.
type Encounter struct {
	ID           string
	UserID       string
	OtherUserID  string
	Timestamp    time.Time
	Emotion      emotion.ID
	OtherEmotion emotion.ID
	Confirmed    bool
}

const schema = `
CREATE TABLE IF NOT EXISTS speed_history (
	user_id      TEXT    NOT NULL,
	window_start INTEGER NOT NULL,
	avg_speed    REAL    NOT NULL,
	emotion      INTEGER NOT NULL,
	PRIMARY KEY (user_id, window_start)
);
CREATE TABLE IF NOT EXISTS speed_rules (
	user_id   TEXT    NOT NULL,
	position  INTEGER NOT NULL,
	min_speed REAL    NOT NULL,
	max_speed REAL    NOT NULL,
	emotion   INTEGER NOT NULL,
	PRIMARY KEY (user_id, position)
);
CREATE TABLE IF NOT EXISTS encounters (
	id            TEXT    PRIMARY KEY,
	user_id       TEXT    NOT NULL,
	other_user_id TEXT    NOT NULL,
	ts            INTEGER NOT NULL,
	emotion       INTEGER NOT NULL,
	other_emotion INTEGER NOT NULL,
	confirmed     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_encounters_user ON encounters (user_id, ts);
CREATE TABLE IF NOT EXISTS badge_unlocks (
	id          TEXT    NOT NULL,
	user_id     TEXT    NOT NULL,
	badge_id    TEXT    NOT NULL,
	achieved_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, badge_id)
);
`

// Store wraps the SQLite handle. It is safe for concurrent use; SQLite
// serializes writers and the busy timeout absorbs short contention.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AppendHistory writes one completed minute window. Records are immutable
// once written; re-flushing the same window for a user is a conflict.
func (s *Store) AppendHistory(ctx context.Context, rec telemetry.HistoryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO speed_history (user_id, window_start, avg_speed, emotion) VALUES (?, ?, ?, ?)`,
		rec.UserID, rec.WindowStart.Unix(), rec.AverageSpeed, int(rec.Emotion),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// HistoryFor returns up to limit records for the user, newest first.
func (s *Store) HistoryFor(ctx context.Context, userID string, limit int) ([]telemetry.HistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT window_start, avg_speed, emotion FROM speed_history WHERE user_id = ? ORDER BY window_start DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []telemetry.HistoryRecord
	for rows.Next() {
		var start int64
		rec := telemetry.HistoryRecord{UserID: userID}
		var emo int
		if err := rows.Scan(&start, &rec.AverageSpeed, &emo); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.WindowStart = time.Unix(start, 0)
		rec.Emotion = emotion.ID(emo)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RulesFor loads the user's ordered rule set. The position column carries
// the definition order the classifier must honor.
func (s *Store) RulesFor(ctx context.Context, userID string) ([]emotion.SpeedRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT min_speed, max_speed, emotion FROM speed_rules WHERE user_id = ? ORDER BY position ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []emotion.SpeedRule
	for rows.Next() {
		r := emotion.SpeedRule{UserID: userID}
		var emo int
		if err := rows.Scan(&r.MinSpeed, &r.MaxSpeed, &emo); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Emotion = emotion.ID(emo)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceRules swaps the user's rule set atomically, preserving slice
// order as definition order.
func (s *Store) ReplaceRules(ctx context.Context, userID string, rules []emotion.SpeedRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rules tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM speed_rules WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}
	for pos, r := range rules {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO speed_rules (user_id, position, min_speed, max_speed, emotion) VALUES (?, ?, ?, ?, ?)`,
			userID, pos, r.MinSpeed, r.MaxSpeed, int(r.Emotion),
		); err != nil {
			return fmt.Errorf("insert rule %d: %w", pos, err)
		}
	}
	return tx.Commit()
}

// RecordEncounter appends one proximity event. The event must be durable
// before badge evaluation runs against it.
func (s *Store) RecordEncounter(ctx context.Context, e Encounter) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO encounters (id, user_id, other_user_id, ts, emotion, other_emotion, confirmed) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.OtherUserID, e.Timestamp.Unix(), int(e.Emotion), int(e.OtherEmotion), boolToInt(e.Confirmed),
	)
	if err != nil {
		return fmt.Errorf("record encounter: %w", err)
	}
	return nil
}

// ConfirmEncounter flips the read-acknowledgement flag. The badge engine
// never looks at it.
func (s *Store) ConfirmEncounter(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE encounters SET confirmed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("confirm encounter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm encounter: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("encounter %s not found", id)
	}
	return nil
}

// EncountersFor lists the user's encounters, newest first.
func (s *Store) EncountersFor(ctx context.Context, userID string, limit int) ([]Encounter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, other_user_id, ts, emotion, other_emotion, confirmed FROM encounters WHERE user_id = ? ORDER BY ts DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query encounters: %w", err)
	}
	defer rows.Close()

	var out []Encounter
	for rows.Next() {
		e := Encounter{UserID: userID}
		var ts int64
		var emo, other, confirmed int
		if err := rows.Scan(&e.ID, &e.OtherUserID, &ts, &emo, &other, &confirmed); err != nil {
			return nil, fmt.Errorf("scan encounter: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.Emotion = emotion.ID(emo)
		e.OtherEmotion = emotion.ID(other)
		e.Confirmed = confirmed != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// UnlockedBadgeIDs returns the set of badge identifiers the user already
// earned.
func (s *Store) UnlockedBadgeIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT badge_id FROM badge_unlocks WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query unlock set: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unlock: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// RecordUnlock writes one unlock. The primary key on (user_id, badge_id)
// backstops the engine's existence check against double inserts.
func (s *Store) RecordUnlock(ctx context.Context, u badges.BadgeUnlock) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO badge_unlocks (id, user_id, badge_id, achieved_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.UserID, u.BadgeID, u.AchievedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record unlock: %w", err)
	}
	return nil
}

// UnlocksFor lists the user's unlocks in the order they were earned.
func (s *Store) UnlocksFor(ctx context.Context, userID string) ([]badges.BadgeUnlock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, badge_id, achieved_at FROM badge_unlocks WHERE user_id = ? ORDER BY achieved_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query unlocks: %w", err)
	}
	defer rows.Close()

	var out []badges.BadgeUnlock
	for rows.Next() {
		u := badges.BadgeUnlock{UserID: userID}
		var at int64
		if err := rows.Scan(&u.ID, &u.BadgeID, &at); err != nil {
			return nil, fmt.Errorf("scan unlock: %w", err)
		}
		u.AchievedAt = time.Unix(at, 0).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
