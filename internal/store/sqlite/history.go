package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/askgate/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
	id            TEXT PRIMARY KEY,
	channel_id    TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	question      TEXT NOT NULL,
	status        TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	attempt       INTEGER NOT NULL DEFAULT 0,
	processing_ms INTEGER NOT NULL DEFAULT 0,
	finished_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_history_finished ON job_history(finished_at DESC);
`

// History implements store.JobHistory on a local sqlite file.
type History struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// sqlite allows one writer; serialize access through a single conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Record(ctx context.Context, rec store.JobRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO job_history (id, channel_id, user_id, question, status, error, attempt, processing_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   error = excluded.error,
		   attempt = excluded.attempt,
		   processing_ms = excluded.processing_ms,
		   finished_at = excluded.finished_at`,
		rec.ID, rec.ChannelID, rec.UserID, rec.Question, rec.Status,
		rec.Error, rec.Attempt, rec.ProcessingMs, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("history: record %s: %w", rec.ID, err)
	}
	return nil
}

func (h *History) Recent(ctx context.Context, limit int) ([]store.JobRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, channel_id, user_id, question, status, error, attempt, processing_ms, finished_at
		 FROM job_history ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []store.JobRecord
	for rows.Next() {
		var rec store.JobRecord
		if err := rows.Scan(&rec.ID, &rec.ChannelID, &rec.UserID, &rec.Question,
			&rec.Status, &rec.Error, &rec.Attempt, &rec.ProcessingMs, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (h *History) Close() error { return h.db.Close() }
