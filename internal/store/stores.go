package store

import (
	"context"
	"time"
)

// JobRecord is one finished job in the audit history.
type JobRecord struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channel_id"`
	UserID       string    `json:"user_id"`
	Question     string    `json:"question"`
	Status       string    `json:"status"` // "answered", "timeout", "failed"
	Error        string    `json:"error,omitempty"`
	Attempt      int       `json:"attempt"`
	ProcessingMs int64     `json:"processing_ms"`
	FinishedAt   time.Time `json:"finished_at"`
}

// JobHistory persists job outcomes for diagnostics. Best effort: pipeline
// correctness never depends on it.
type JobHistory interface {
	Record(ctx context.Context, rec JobRecord) error
	Recent(ctx context.Context, limit int) ([]JobRecord, error)
	Close() error
}
