// Package history keeps a SQLite journal of finished recording jobs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"go2tv.app/gifcast/gifconv"
	"go2tv.app/gifcast/pipeline"
)

var ErrNilResult = errors.New("history: nil result")

// Entry is one journaled job.
type Entry struct {
	SessionID  string            `json:"session_id"`
	SourceID   string            `json:"source_id,omitempty"`
	SourceName string            `json:"source_name"`
	Trigger    string            `json:"trigger,omitempty"`
	Status     pipeline.Status   `json:"status"`
	VideoPath  string            `json:"video_path,omitempty"`
	VideoSize  int64             `json:"video_size,omitempty"`
	Width      int               `json:"width,omitempty"`
	Height     int               `json:"height,omitempty"`
	GIFPath    string            `json:"gif_path,omitempty"`
	GIFSize    int64             `json:"gif_size,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Attempts   []gifconv.Attempt `json:"attempts,omitempty"`
}

type Store struct {
	db *sql.DB
}

// Open creates the database file if needed and brings the schema up to date.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// best effort; the directory is already private
	_ = os.Chmod(path, 0o600)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements pipeline.Journal. Recording the same session twice
// replaces the earlier row and its attempts.
func (s *Store) Record(ctx context.Context, r *pipeline.Result) error {
	if r == nil {
		return ErrNilResult
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		videoPath, gifPath sql.NullString
		videoSize, gifSize sql.NullInt64
		width, height      sql.NullInt64
	)
	if r.Video != nil {
		videoPath = sql.NullString{String: r.Video.Path, Valid: true}
		videoSize = sql.NullInt64{Int64: r.Video.Size, Valid: true}
		if r.Video.Width > 0 && r.Video.Height > 0 {
			width = sql.NullInt64{Int64: int64(r.Video.Width), Valid: true}
			height = sql.NullInt64{Int64: int64(r.Video.Height), Valid: true}
		}
	}
	if r.GIF != nil {
		gifPath = sql.NullString{String: r.GIF.Path, Valid: true}
		gifSize = sql.NullInt64{Int64: r.GIF.Size, Valid: true}
	}

	errText := r.Error
	if errText == "" && r.Err != nil {
		errText = r.Err.Error()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (
			id, source_id, source_name, stop_trigger, status,
			video_path, video_size, width, height,
			gif_path, gif_size, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.SessionID, r.SourceID, r.SourceName, string(r.Trigger), string(r.Status),
		videoPath, videoSize, width, height,
		gifPath, gifSize, toNullString(errText),
		toUnixMilli(r.StartedAt), toUnixMilli(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("history: insert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE session_id = ?`, r.SessionID); err != nil {
		return fmt.Errorf("history: clear attempts: %w", err)
	}
	for i, a := range r.Attempts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attempts (session_id, seq, strategy, outcome, reason, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.SessionID, i, a.Strategy, string(a.Outcome), toNullString(a.Reason), a.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("history: insert attempt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A limit below one
// returns everything.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, source_id, source_name, stop_trigger, status,
			video_path, video_size, width, height,
			gif_path, gif_size, error, started_at, finished_at
		FROM sessions
		ORDER BY finished_at DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                  Entry
			status             string
			videoPath, gifPath sql.NullString
			videoSize, gifSize sql.NullInt64
			width, height      sql.NullInt64
			errText            sql.NullString
			started, finished  int64
		)
		if err := rows.Scan(
			&e.SessionID, &e.SourceID, &e.SourceName, &e.Trigger, &status,
			&videoPath, &videoSize, &width, &height,
			&gifPath, &gifSize, &errText, &started, &finished,
		); err != nil {
			return nil, fmt.Errorf("history: scan session: %w", err)
		}
		e.Status = pipeline.Status(status)
		e.VideoPath = videoPath.String
		e.VideoSize = videoSize.Int64
		e.Width = int(width.Int64)
		e.Height = int(height.Int64)
		e.GIFPath = gifPath.String
		e.GIFSize = gifSize.Int64
		e.Error = errText.String
		e.StartedAt = fromUnixMilli(started)
		e.FinishedAt = fromUnixMilli(finished)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate sessions: %w", err)
	}

	for i := range entries {
		attempts, err := s.attempts(ctx, entries[i].SessionID)
		if err != nil {
			return nil, err
		}
		entries[i].Attempts = attempts
	}
	return entries, nil
}

func (s *Store) attempts(ctx context.Context, sessionID string) ([]gifconv.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, outcome, reason, duration_ms
		FROM attempts
		WHERE session_id = ?
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history: query attempts: %w", err)
	}
	defer rows.Close()

	var out []gifconv.Attempt
	for rows.Next() {
		var (
			a       gifconv.Attempt
			outcome string
			reason  sql.NullString
			ms      int64
		)
		if err := rows.Scan(&a.Strategy, &outcome, &reason, &ms); err != nil {
			return nil, fmt.Errorf("history: scan attempt: %w", err)
		}
		a.Outcome = gifconv.Outcome(outcome)
		a.Reason = reason.String
		a.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

func migrate(db *sql.DB) error {
	version, err := userVersion(db)
	if err != nil {
		return err
	}

	if version < 1 {
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS sessions (
				id          TEXT PRIMARY KEY,
				source_id   TEXT NOT NULL DEFAULT '',
				source_name TEXT NOT NULL,
				stop_trigger TEXT NOT NULL DEFAULT '',
				status      TEXT NOT NULL,
				video_path  TEXT,
				video_size  INTEGER,
				width       INTEGER,
				height      INTEGER,
				gif_path    TEXT,
				gif_size    INTEGER,
				error       TEXT,
				started_at  INTEGER NOT NULL,
				finished_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_finished ON sessions(finished_at);
			CREATE TABLE IF NOT EXISTS attempts (
				session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				seq         INTEGER NOT NULL,
				strategy    TEXT NOT NULL,
				outcome     TEXT NOT NULL,
				reason      TEXT,
				duration_ms INTEGER NOT NULL,
				PRIMARY KEY (session_id, seq)
			);
		`)
		if err != nil {
			return fmt.Errorf("failed to create history schema: %w", err)
		}
		if err := setUserVersion(db, 1); err != nil {
			return err
		}
	}
	return nil
}

func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

func userVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

func setUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toUnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
