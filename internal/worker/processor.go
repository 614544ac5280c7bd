package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/askgate/internal/answer"
	"github.com/nextlevelbuilder/askgate/internal/chat"
	"github.com/nextlevelbuilder/askgate/internal/config"
	"github.com/nextlevelbuilder/askgate/internal/queue"
)

// User-visible notices. Every admitted job ends in exactly one of: the
// answer, the timeout notice, or the failure notice.
const (
	placeholderText = ":mag: Searching the knowledge base…"
	interimText     = ":hourglass_flowing_sand: Still working on it — this needs a deeper search…"
	timeoutText     = ":warning: I ran out of time answering this one. Please try again, or narrow the question."
	failureText     = ":x: Something went wrong while answering. Please try again."
)

// Outcome classifies how a job ended.
type Outcome int

const (
	OutcomeAnswered Outcome = iota
	OutcomeTimeout
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAnswered:
		return "answered"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "failed"
	}
}

// ProcessResult reports what happened to one job.
type ProcessResult struct {
	Outcome Outcome
	Handle  chat.MessageHandle // placeholder handle, reused across attempts
	Err     error
}

// Processor turns one Job into a delivered answer (or a failure notice).
type Processor struct {
	chat         ChatClient
	engine       answer.Engine
	streamCfg    config.StreamConfig
	hardTimeout  time.Duration
	interimDelay time.Duration
}

// NewProcessor creates a job processor.
func NewProcessor(chatClient ChatClient, engine answer.Engine, cfg *config.Config) *Processor {
	return &Processor{
		chat:         chatClient,
		engine:       engine,
		streamCfg:    cfg.Stream,
		hardTimeout:  cfg.HardTimeout(),
		interimDelay: cfg.InterimDelay(),
	}
}

type genResult struct {
	text string
	err  error
}

// Process runs one job end to end. finalAttempt controls the failure path:
// on a non-final attempt no notice is posted, so the retry can pick up the
// same placeholder. All side effects are idempotent under redelivery: the
// placeholder handle travels with the job and is never re-created.
func (p *Processor) Process(ctx context.Context, job queue.Job, finalAttempt bool) ProcessResult {
	handle := job.Stub
	if !handle.Valid() {
		h, err := p.chat.PostMessage(ctx, job.ChannelID, placeholderText, job.ThreadTs)
		if err != nil {
			// Without a placeholder we still try to deliver the outcome as
			// a fresh message at the end.
			slog.Warn("placeholder post failed", "job", job.ID, "error", err)
		} else {
			handle = h
		}
	}

	// Interim notice: armed now, disarmed on completion. The guard makes
	// sure a notice that fires while the final edit is going out cannot
	// clobber it.
	var mu sync.Mutex
	finished := false
	interimStop := make(chan struct{})
	if handle.Valid() && p.interimDelay > 0 {
		go func() {
			select {
			case <-interimStop:
				return
			case <-time.After(p.interimDelay):
			}
			mu.Lock()
			defer mu.Unlock()
			if finished {
				return
			}
			if err := p.chat.UpdateMessage(ctx, handle, interimText); err != nil {
				slog.Warn("interim notice failed", "job", job.ID, "error", err)
			}
		}()
	}
	finish := func() {
		mu.Lock()
		finished = true
		mu.Unlock()
		close(interimStop)
	}

	// Race generation against the hard timeout. genCtx stops our local work
	// (including streaming edits) on timeout; the remote call may well keep
	// running and consume quota — accepted, not fixable from here.
	genCtx, cancelGen := context.WithCancel(ctx)
	defer cancelGen()

	var updater *Updater
	resCh := make(chan genResult, 1)
	go func() {
		if job.Streaming && handle.Valid() {
			deadline := time.Now().Add(p.hardTimeout)
			updater = NewUpdater(p.chat, handle, p.streamCfg, deadline)
			text, err := p.engine.Stream(genCtx, job.QuestionText, func(partial string) {
				updater.Offer(genCtx, partial)
			})
			resCh <- genResult{text: text, err: err}
			return
		}
		text, err := p.engine.Generate(genCtx, job.QuestionText)
		resCh <- genResult{text: text, err: err}
	}()

	var res genResult
	timedOut := false
	select {
	case res = <-resCh:
	case <-time.After(p.hardTimeout):
		timedOut = true
		cancelGen()
	case <-ctx.Done():
		timedOut = true
		cancelGen()
	}

	finish()

	switch {
	case timedOut:
		if finalAttempt {
			p.deliver(ctx, &handle, job, timeoutText)
		}
		return ProcessResult{Outcome: OutcomeTimeout, Handle: handle, Err: context.DeadlineExceeded}

	case res.err != nil:
		slog.Error("generation failed", "job", job.ID, "error", res.err)
		if updater != nil && updater.Delivered() {
			// Partial content reached the user; keep it and mark it
			// incomplete instead of replacing it with a bare failure.
			updater.MarkIncomplete(ctx, res.text)
		} else if finalAttempt {
			p.deliver(ctx, &handle, job, failureText)
		}
		return ProcessResult{Outcome: OutcomeFailed, Handle: handle, Err: res.err}

	default:
		text := res.text
		if text == "" {
			text = failureText
		}
		if updater != nil {
			if err := updater.Flush(ctx, text); err != nil {
				slog.Warn("final flush failed", "job", job.ID, "error", err)
			}
		} else {
			p.deliver(ctx, &handle, job, text)
		}
		return ProcessResult{Outcome: OutcomeAnswered, Handle: handle, Err: nil}
	}
}

// deliver edits the placeholder in place, or posts a new message when no
// placeholder exists. Best effort: a delivery failure is logged, bounded by
// the retry wrapper, and not escalated further.
func (p *Processor) deliver(ctx context.Context, handle *chat.MessageHandle, job queue.Job, text string) {
	if handle.Valid() {
		if err := p.chat.UpdateMessage(ctx, *handle, text); err != nil {
			slog.Error("delivery failed", "job", job.ID, "error", err)
		}
		return
	}
	h, err := p.chat.PostMessage(ctx, job.ChannelID, text, job.ThreadTs)
	if err != nil {
		slog.Error("delivery failed", "job", job.ID, "error", err)
		return
	}
	*handle = h
}
