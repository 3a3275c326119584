package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"didi-mentor/internal/domain"
	"didi-mentor/internal/logging"
)

// migration is one ordered schema step.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create turns and user stats",
		SQL: `
			CREATE TABLE turns (
				session_id  TEXT NOT NULL,
				turn_id     TEXT NOT NULL,
				role        TEXT NOT NULL,
				text        TEXT NOT NULL,
				at          TEXT NOT NULL,
				emotion     TEXT NOT NULL DEFAULT '',
				end_call    INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (session_id, turn_id)
			);

			CREATE INDEX idx_turns_session_at ON turns (session_id, at);

			CREATE TABLE user_stats (
				user_id         TEXT PRIMARY KEY,
				total_calls     INTEGER NOT NULL DEFAULT 0,
				total_turns     INTEGER NOT NULL DEFAULT 0,
				talk_time_ms    INTEGER NOT NULL DEFAULT 0,
				current_streak  INTEGER NOT NULL DEFAULT 0,
				best_streak     INTEGER NOT NULL DEFAULT 0,
				last_call_date  TEXT NOT NULL DEFAULT '',
				pack_progress   TEXT NOT NULL DEFAULT '{}',
				achievements    TEXT NOT NULL DEFAULT '{}',
				flags           TEXT NOT NULL DEFAULT '{}',
				version         INTEGER NOT NULL,
				updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
}

// SQLiteStore keeps turns and stats in a local SQLite file for on-device use.
type SQLiteStore struct {
	db  *sql.DB
	log *logging.Logger
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
// Use ":memory:" for an in-memory database.
func OpenSQLite(path string, log *logging.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logging.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("repository: create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: log.Sub("sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: run migrations: %w", err)
	}
	s.log.Info().Str("path", path).Msg("database opened")
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		s.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SaveTurn inserts a turn once; a duplicate turn id in the session is an error.
func (s *SQLiteStore) SaveTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(turn.ID) == "" {
		return errors.New("repository: SaveTurn: session id and turn id are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, turn_id, role, text, at, emotion, end_call) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, turn.ID, string(turn.Role), turn.Text,
		turn.At.UTC().Format(sortableTime), string(turn.Emotion), turn.EndCall,
	)
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// Turns returns a session's stored turns in chronological order.
func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_id, role, text, at, emotion, end_call FROM turns WHERE session_id = ? ORDER BY at, rowid`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: Turns query: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var (
			t             domain.Turn
			role, emotion string
			at            string
		)
		if err := rows.Scan(&t.ID, &role, &t.Text, &at, &emotion, &t.EndCall); err != nil {
			return nil, fmt.Errorf("repository: Turns scan: %w", err)
		}
		if t.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("repository: Turns parse time: %w", err)
		}
		t.Role = domain.Role(role)
		t.Emotion = domain.EmotionTag(emotion)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: Turns rows: %w", err)
	}
	return turns, nil
}

// LoadStats returns the user's stats, or an empty document at version 0.
func (s *SQLiteStore) LoadStats(ctx context.Context, userID string) (domain.UserStats, error) {
	st := domain.UserStats{UserID: userID}
	var (
		talkMS                       int64
		lastCall                     string
		packJSON, achJSON, flagsJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT total_calls, total_turns, talk_time_ms, current_streak, best_streak,
		       last_call_date, pack_progress, achievements, flags, version
		FROM user_stats WHERE user_id = ?`, userID,
	).Scan(&st.TotalCalls, &st.TotalTurns, &talkMS, &st.CurrentStreak, &st.BestStreak,
		&lastCall, &packJSON, &achJSON, &flagsJSON, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserStats{UserID: userID}, nil
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("repository: LoadStats: %w", err)
	}

	st.TotalTalkTime = time.Duration(talkMS) * time.Millisecond
	if lastCall != "" {
		if st.LastCallDate, err = time.Parse(time.RFC3339Nano, lastCall); err != nil {
			return domain.UserStats{}, fmt.Errorf("repository: LoadStats last call date: %w", err)
		}
	}
	if err := decodeJSONColumn(packJSON, &st.PackProgress); err != nil {
		return domain.UserStats{}, fmt.Errorf("repository: LoadStats pack progress: %w", err)
	}
	if err := decodeJSONColumn(achJSON, &st.Achievements); err != nil {
		return domain.UserStats{}, fmt.Errorf("repository: LoadStats achievements: %w", err)
	}
	if err := decodeJSONColumn(flagsJSON, &st.Flags); err != nil {
		return domain.UserStats{}, fmt.Errorf("repository: LoadStats flags: %w", err)
	}
	return st, nil
}

// SaveStats writes stats at Version+1 if the stored version equals
// stats.Version; otherwise it returns an error wrapping domain.ErrVersionConflict.
func (s *SQLiteStore) SaveStats(ctx context.Context, userID string, stats domain.UserStats) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: SaveStats: user id is required")
	}
	packJSON, err := encodeJSONColumn(stats.PackProgress)
	if err != nil {
		return fmt.Errorf("repository: SaveStats: %w", err)
	}
	achJSON, err := encodeJSONColumn(stats.Achievements)
	if err != nil {
		return fmt.Errorf("repository: SaveStats: %w", err)
	}
	flagsJSON, err := encodeJSONColumn(stats.Flags)
	if err != nil {
		return fmt.Errorf("repository: SaveStats: %w", err)
	}
	lastCall := ""
	if !stats.LastCallDate.IsZero() {
		lastCall = stats.LastCallDate.Format(time.RFC3339Nano)
	}

	var res sql.Result
	if stats.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO user_stats (user_id, total_calls, total_turns, talk_time_ms, current_streak, best_streak,
			                        last_call_date, pack_progress, achievements, flags, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(user_id) DO NOTHING`,
			userID, stats.TotalCalls, stats.TotalTurns, stats.TotalTalkTime.Milliseconds(),
			stats.CurrentStreak, stats.BestStreak, lastCall, packJSON, achJSON, flagsJSON,
		)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE user_stats SET total_calls = ?, total_turns = ?, talk_time_ms = ?, current_streak = ?,
			       best_streak = ?, last_call_date = ?, pack_progress = ?, achievements = ?, flags = ?,
			       version = version + 1, updated_at = datetime('now')
			WHERE user_id = ? AND version = ?`,
			stats.TotalCalls, stats.TotalTurns, stats.TotalTalkTime.Milliseconds(), stats.CurrentStreak,
			stats.BestStreak, lastCall, packJSON, achJSON, flagsJSON, userID, stats.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("repository: SaveStats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: SaveStats rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository: SaveStats: %w", domain.ErrVersionConflict)
	}
	return nil
}

func encodeJSONColumn(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "{}", nil
	}
	return string(b), nil
}

// decodeJSONColumn leaves dst nil for an empty object.
func decodeJSONColumn[T any](raw string, dst *map[string]T) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
