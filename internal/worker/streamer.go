package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/askgate/internal/chat"
	"github.com/nextlevelbuilder/askgate/internal/config"
	"github.com/nextlevelbuilder/askgate/internal/retry"
)

const incompleteNotice = "\n\n_… answer incomplete: the stream was interrupted._"

// Updater converts a monotonically growing sequence of partial answers into
// a bounded number of in-place edits. An edit goes out only when the content
// grew by a minimum delta AND a minimum interval elapsed since the last
// successful edit; the final content is always flushed.
type Updater struct {
	client   ChatClient
	handle   chat.MessageHandle
	limiter  *rate.Limiter
	deadline time.Time

	minDeltaChars  int
	minDeltaFactor float64

	lastSent string
	edits    int
}

// ChatClient is the outbound surface the worker needs. *chat.Client
// satisfies it; tests substitute a fake.
type ChatClient interface {
	PostMessage(ctx context.Context, channel, text, threadTs string) (chat.MessageHandle, error)
	UpdateMessage(ctx context.Context, handle chat.MessageHandle, text string) error
	UpdateMessageOnce(ctx context.Context, handle chat.MessageHandle, text string) error
}

// NewUpdater creates a streaming updater for handle. deadline caps how long
// rate-limit waits may stretch; edits never sleep past it.
func NewUpdater(client ChatClient, handle chat.MessageHandle, cfg config.StreamConfig, deadline time.Time) *Updater {
	interval := time.Duration(cfg.MinIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}
	minChars := cfg.MinDeltaChars
	if minChars <= 0 {
		minChars = 48
	}
	factor := cfg.MinDeltaFactor
	if factor <= 0 {
		factor = 0.1
	}
	// Burst 1: the first chunk may go out immediately, then the interval
	// gate applies.
	return &Updater{
		client:         client,
		handle:         handle,
		limiter:        rate.NewLimiter(rate.Every(interval), 1),
		deadline:       deadline,
		minDeltaChars:  minChars,
		minDeltaFactor: factor,
	}
}

// Offer submits a new partial answer. Skipped offers are not an error; the
// next offer (or the final flush) carries the accumulated content anyway.
func (u *Updater) Offer(ctx context.Context, partial string) {
	if !u.grewEnough(partial) {
		return
	}
	if !u.limiter.Allow() {
		return
	}
	u.edit(ctx, partial)
}

// Flush emits the final content, bypassing the interval and delta gates.
// No-op if the content was already the last successful edit.
func (u *Updater) Flush(ctx context.Context, final string) error {
	if final == u.lastSent {
		return nil
	}
	return u.edit(ctx, final)
}

// MarkIncomplete appends the interrupted-stream notice to the last content
// delivered, preserving partial progress rather than discarding it.
func (u *Updater) MarkIncomplete(ctx context.Context, lastGood string) {
	if lastGood == "" {
		lastGood = u.lastSent
	}
	if lastGood == "" {
		return
	}
	if err := u.edit(ctx, lastGood+incompleteNotice); err != nil {
		slog.Warn("streaming: incomplete notice not delivered", "error", err)
	}
}

// Delivered reports whether any content reached the user.
func (u *Updater) Delivered() bool { return u.edits > 0 }

// Edits returns the number of successful edit calls.
func (u *Updater) Edits() int { return u.edits }

func (u *Updater) grewEnough(partial string) bool {
	delta := len(partial) - len(u.lastSent)
	floor := u.minDeltaChars
	if pct := int(float64(len(u.lastSent)) * u.minDeltaFactor); pct > floor {
		floor = pct
	}
	return delta >= floor
}

// edit performs one in-place update. On a rate-limited response it waits the
// platform-advised delay (capped to the remaining budget) and retries that
// edit once; any other failure is logged and the content is left for the
// next offer to carry.
func (u *Updater) edit(ctx context.Context, content string) error {
	err := u.client.UpdateMessageOnce(ctx, u.handle, content)
	if err == nil {
		u.lastSent = content
		u.edits++
		return nil
	}

	var httpErr *retry.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == 429 {
		wait := httpErr.RetryAfter
		if wait <= 0 {
			wait = 2 * time.Second
		}
		if remaining := time.Until(u.deadline); wait > remaining {
			wait = remaining
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			if retryErr := u.client.UpdateMessageOnce(ctx, u.handle, content); retryErr == nil {
				u.lastSent = content
				u.edits++
				return nil
			}
		}
	}

	slog.Warn("streaming: edit failed", "error", err)
	return err
}
