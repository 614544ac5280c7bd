package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bsm/redislock"

	"github.com/nextlevelbuilder/askgate/internal/config"
	"github.com/nextlevelbuilder/askgate/internal/queue"
	"github.com/nextlevelbuilder/askgate/internal/store"
)

// Trigger kinds accepted by the worker endpoint.
const (
	TriggerChained    = "chained"
	TriggerDirectJob  = "direct_job"
	TriggerDiagnostic = "diagnostic"
)

// Result is the structured outcome of one coordinator pass. The top level
// always returns one of these; nothing propagates past RunOnce uncaught.
type Result struct {
	Status         string `json:"status"` // "success", "error", "no_jobs", "busy"
	JobID          string `json:"job_id,omitempty"`
	Error          string `json:"error,omitempty"`
	RemainingJobs  int64  `json:"remainingJobs"`
	ProcessingTime int64  `json:"processingTime"` // milliseconds
}

// Coordinator drains the job queue one job per invocation. When work
// remains after a pass it fires a detached follow-up invocation of its own
// endpoint, converting a bounded-duration unit into an unbounded drain loop.
// Multiple coordinators may overlap; correctness rests on the queue's
// deliver/verify semantics, not on mutual exclusion here.
type Coordinator struct {
	cfg     *config.Config
	jobs    queue.Queue
	proc    *Processor
	locker  *redislock.Client // nil = no shared ceiling (tests, single node)
	history store.JobHistory  // nil = disabled
	client  *http.Client
}

// NewCoordinator creates a worker coordinator. locker and history may be nil.
func NewCoordinator(cfg *config.Config, jobs queue.Queue, proc *Processor, locker *redislock.Client, history store.JobHistory) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		jobs:    jobs,
		proc:    proc,
		locker:  locker,
		history: history,
		client:  &http.Client{Timeout: time.Duration(cfg.Worker.ChainTimeoutSec) * time.Second},
	}
}

// RunOnce executes one coordinator pass: fetch one job, process it under the
// hard ceiling, verify on success, then chain if work remains.
func (c *Coordinator) RunOnce(ctx context.Context) Result {
	started := time.Now()

	// Concurrency ceiling: one of N shared slots. A pass that cannot get a
	// slot backs off entirely; the chain or the scheduled tick retries.
	release, ok := c.acquireSlot(ctx)
	if !ok {
		depth, _ := c.jobs.Depth(ctx)
		return Result{Status: "busy", RemainingJobs: depth}
	}
	defer release()

	msg, err := c.jobs.Dequeue(ctx)
	if err != nil {
		slog.Error("worker: dequeue failed", "error", err)
		return Result{Status: "error", Error: err.Error(), ProcessingTime: time.Since(started).Milliseconds()}
	}
	if msg == nil {
		return Result{Status: "no_jobs"}
	}

	job := msg.Job
	finalAttempt := job.Attempt+1 >= c.cfg.Worker.MaxAttempts
	slog.Info("worker: processing job",
		"job", job.ID, "channel", job.ChannelID, "attempt", job.Attempt, "final", finalAttempt)

	// Coordinator-enforced ceiling: slightly above the processor's own race
	// so the processor normally decides the outcome, with this as backstop.
	procCtx, cancel := context.WithTimeout(ctx, c.cfg.HardTimeout()+5*time.Second)
	res := c.proc.Process(procCtx, job, finalAttempt)
	cancel()

	elapsed := time.Since(started)
	c.record(job, res, elapsed)

	switch res.Outcome {
	case OutcomeAnswered:
		verified, err := c.jobs.Verify(ctx, msg.Token)
		if err != nil || !verified {
			// The user already has their answer; redelivery is made
			// harmless by the idempotent message handle, so log only.
			slog.Warn("worker: verify failed after success", "job", job.ID, "error", err, "verified", verified)
		}

	default:
		if !finalAttempt {
			// Bounded automatic re-queue: carry the placeholder handle so
			// the next attempt edits the same message.
			retryJob := job
			retryJob.Attempt++
			retryJob.Stub = res.Handle
			if err := c.jobs.Enqueue(ctx, retryJob); err != nil {
				slog.Error("worker: re-enqueue failed, leaving delivery unverified", "job", job.ID, "error", err)
			} else if _, err := c.jobs.Verify(ctx, msg.Token); err != nil {
				slog.Warn("worker: verify of retried delivery failed", "job", job.ID, "error", err)
			}
		}
		// Final failure: the message stays unverified. The user already got
		// their notice; the reaper enforces the terminal delivery bound.
	}

	remaining, _ := c.jobs.Depth(ctx)
	if remaining > 0 {
		c.fireChain()
	}

	status := "success"
	var errText string
	if res.Outcome != OutcomeAnswered {
		status = "error"
		if res.Err != nil {
			errText = res.Err.Error()
		}
	}
	return Result{
		Status:         status,
		JobID:          job.ID,
		Error:          errText,
		RemainingJobs:  remaining,
		ProcessingTime: elapsed.Milliseconds(),
	}
}

// acquireSlot obtains one of the MaxConcurrent shared worker slots. The
// returned release function is a no-op when no locker is configured.
func (c *Coordinator) acquireSlot(ctx context.Context) (func(), bool) {
	if c.locker == nil {
		return func() {}, true
	}
	ttl := c.cfg.HardTimeout() + 30*time.Second
	for i := 0; i < c.cfg.Worker.MaxConcurrent; i++ {
		key := fmt.Sprintf("%s:slot:%d", c.cfg.Redis.QueueName, i)
		lock, err := c.locker.Obtain(ctx, key, ttl, nil)
		if err == redislock.ErrNotObtained {
			continue
		}
		if err != nil {
			slog.Error("worker: slot lock failed", "error", err)
			return func() {}, false
		}
		return func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				slog.Warn("worker: slot release failed", "error", err)
			}
		}, true
	}
	return func() {}, false
}

// fireChain sends one detached follow-up invocation to our own endpoint and
// does not await the result. A chained trigger against an emptied queue is a
// safe no-op on the receiving side.
func (c *Coordinator) fireChain() {
	selfURL := c.cfg.Worker.SelfURL
	if selfURL == "" {
		// No self endpoint configured; the scheduled tick drains instead.
		return
	}
	go func() {
		body, _ := json.Marshal(map[string]string{"type": TriggerChained})
		req, err := http.NewRequest("POST", selfURL, bytes.NewReader(body))
		if err != nil {
			slog.Error("worker: chain request build failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.Worker.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.Worker.Token)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			// A client-side timeout just means the follow-up outlived our
			// wait; it keeps processing detached.
			slog.Debug("worker: chain trigger not awaited", "error", err)
			return
		}
		resp.Body.Close()
		slog.Debug("worker: chained follow-up fired", "status", resp.StatusCode)
	}()
}

// record persists the job outcome to the history store, if enabled.
func (c *Coordinator) record(job queue.Job, res ProcessResult, elapsed time.Duration) {
	if c.history == nil {
		return
	}
	rec := store.JobRecord{
		ID:           job.ID,
		ChannelID:    job.ChannelID,
		UserID:       job.UserID,
		Question:     job.QuestionText,
		Status:       res.Outcome.String(),
		Attempt:      job.Attempt,
		ProcessingMs: elapsed.Milliseconds(),
		FinishedAt:   time.Now().UTC(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	recCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.history.Record(recCtx, rec); err != nil {
		slog.Warn("worker: history record failed", "job", job.ID, "error", err)
	}
}
