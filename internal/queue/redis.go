package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultVisibilityTimeout is how long a delivered message may stay
// unverified before the reaper returns it to the queue.
const DefaultVisibilityTimeout = 5 * time.Minute

// DefaultMaxDeliveries bounds how many times the reaper redelivers a
// message before dropping it as terminally failed. Failed jobs stay
// unverified by design; this bound is what keeps them from cycling forever.
const DefaultMaxDeliveries = 3

// commands is the slice of the redis client surface the queue uses.
// *redis.Client satisfies it; tests substitute an in-memory fake.
type commands interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LMove(ctx context.Context, source, destination, srcpos, destpos string) *redis.StringCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisQueue implements Queue on a Redis list.
//
// Layout:
//
//	<name>             list of serialized Message (LPUSH producer side)
//	<name>:processing  in-flight messages (LMOVE target)
//	<name>:deadlines   hash token -> unix deadline for the reaper
type RedisQueue struct {
	rdb           commands
	name          string
	visibility    time.Duration
	maxDeliveries int
}

// NewRedisQueue creates a queue on the list named name.
func NewRedisQueue(rdb *redis.Client, name string, visibility time.Duration) *RedisQueue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &RedisQueue{
		rdb:           rdb,
		name:          name,
		visibility:    visibility,
		maxDeliveries: DefaultMaxDeliveries,
	}
}

func (q *RedisQueue) processingKey() string { return q.name + ":processing" }
func (q *RedisQueue) deadlinesKey() string  { return q.name + ":deadlines" }

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	msg := Message{Job: job, Token: uuid.NewString()}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal job %s: %w", job.ID, err)
	}
	if err := q.rdb.LPush(ctx, q.name, raw).Err(); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Message, error) {
	raw, err := q.rdb.LMove(ctx, q.name, q.processingKey(), "RIGHT", "LEFT").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		// Corrupt entry: drop it from processing so it cannot wedge the queue.
		q.rdb.LRem(ctx, q.processingKey(), 1, raw)
		return nil, fmt.Errorf("queue: corrupt entry dropped: %w", err)
	}

	deadline := time.Now().Add(q.visibility).Unix()
	if err := q.rdb.HSet(ctx, q.deadlinesKey(), msg.Token, deadline).Err(); err != nil {
		// Without a deadline record the reaper would never see this entry,
		// so put the delivery back at the consume end of the main list.
		q.rdb.LRem(ctx, q.processingKey(), 1, raw)
		q.rdb.RPush(ctx, q.name, raw)
		return nil, fmt.Errorf("queue: record deadline: %w", err)
	}
	return &msg, nil
}

func (q *RedisQueue) Verify(ctx context.Context, token string) (bool, error) {
	raw, err := q.findProcessing(ctx, token)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return false, nil
	}

	removed, err := q.rdb.LRem(ctx, q.processingKey(), 1, raw).Result()
	if err != nil {
		return false, fmt.Errorf("queue: verify %s: %w", token, err)
	}
	q.rdb.HDel(ctx, q.deadlinesKey(), token)
	return removed > 0, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return n, nil
}

// Reap moves deliveries whose visibility deadline has passed back onto the
// queue. Safe to run concurrently with consumers: a consumer that verifies
// after the reaper ran simply gets Verify == false, which is logged, not
// acted on. Returns the number of messages requeued.
func (q *RedisQueue) Reap(ctx context.Context) (int, error) {
	deadlines, err := q.rdb.HGetAll(ctx, q.deadlinesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: reap: read deadlines: %w", err)
	}

	now := time.Now().Unix()
	requeued := 0
	for token, v := range deadlines {
		deadline, err := strconv.ParseInt(v, 10, 64)
		if err != nil || deadline > now {
			continue
		}

		raw, err := q.findProcessing(ctx, token)
		if err != nil {
			return requeued, err
		}
		if raw == "" {
			// Verified concurrently; just drop the stale deadline.
			q.rdb.HDel(ctx, q.deadlinesKey(), token)
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err == nil {
			if msg.Job.Attempt+1 >= q.maxDeliveries {
				// Terminal: the consumer already informed the user on its
				// failure path, so the job is dropped, not recycled.
				q.rdb.LRem(ctx, q.processingKey(), 1, raw)
				q.rdb.HDel(ctx, q.deadlinesKey(), token)
				continue
			}
			msg.Job.Attempt++
			// Re-enqueue under a fresh token so a zombie consumer holding
			// the old token cannot verify the new delivery away.
			if err := q.Enqueue(ctx, msg.Job); err != nil {
				return requeued, err
			}
		}
		q.rdb.LRem(ctx, q.processingKey(), 1, raw)
		q.rdb.HDel(ctx, q.deadlinesKey(), token)
		requeued++
	}
	return requeued, nil
}

// findProcessing locates the raw entry in the processing list carrying token.
func (q *RedisQueue) findProcessing(ctx context.Context, token string) (string, error) {
	entries, err := q.rdb.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return "", fmt.Errorf("queue: scan processing: %w", err)
	}
	for _, raw := range entries {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		if msg.Token == token {
			return raw, nil
		}
	}
	return "", nil
}
