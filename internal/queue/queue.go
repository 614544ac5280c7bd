// Package queue provides the durable job queue between the event gateway
// and the worker. Delivery is at-least-once: a dequeued message stays in a
// processing list until verified, and unverified deliveries are eventually
// redelivered by the reaper.
package queue

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/askgate/internal/chat"
)

// Job is one unit of question-processing work derived from an inbound event.
type Job struct {
	ID           string             `json:"id"`
	ChannelID    string             `json:"channel_id"`
	UserID       string             `json:"user_id"`
	QuestionText string             `json:"question_text"`
	ThreadTs     string             `json:"thread_ts,omitempty"`
	EventTs      string             `json:"event_ts,omitempty"`
	Stub         chat.MessageHandle `json:"stub,omitempty"`     // pre-posted placeholder, if any
	Streaming    bool               `json:"streaming,omitempty"`
	Attempt      int                `json:"attempt,omitempty"` // 0 on first delivery
	EnqueuedAt   time.Time          `json:"enqueued_at"`
}

// Message wraps a delivered Job with its delivery token. Verify with the
// token removes the message from the backing store; until then a crashed
// consumer leaves it eligible for redelivery.
type Message struct {
	Job   Job    `json:"job"`
	Token string `json:"token"`
}

// Queue is a durable, best-effort-FIFO, multi-producer/multi-consumer store.
type Queue interface {
	// Enqueue appends a job. Returns an error only if the store is unreachable.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue removes the next job for processing, or nil if the queue is
	// empty. Non-blocking.
	Dequeue(ctx context.Context) (*Message, error)

	// Verify confirms a delivery, removing it permanently. Returns false if
	// the token is unknown (already verified or reaped).
	Verify(ctx context.Context, token string) (bool, error)

	// Depth returns the number of jobs waiting (not counting in-flight ones).
	Depth(ctx context.Context) (int64, error)
}
