package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/askgate/internal/queue"
)

// Tick is the scheduled safety net: jobs stranded by a broken chain (crash
// between verify and chain-fire, lost trigger) are drained eventually, and
// stale unverified deliveries are reaped back onto the queue. Overlap with
// chained invocations is harmless; the queue's delivery semantics and the
// shared slot ceiling handle it.
type Tick struct {
	coord    *Coordinator
	jobs     queue.Queue
	schedule string
	gron     *gronx.Gronx
}

// NewTick creates the scheduled drain loop. Returns an error if schedule is
// not a valid cron expression.
func NewTick(coord *Coordinator, jobs queue.Queue, schedule string) (*Tick, error) {
	g := gronx.New()
	if !g.IsValid(schedule) {
		return nil, fmt.Errorf("worker: invalid tick schedule %q", schedule)
	}
	return &Tick{coord: coord, jobs: jobs, schedule: schedule, gron: g}, nil
}

// Run blocks until ctx is cancelled, firing a coordinator pass whenever the
// schedule is due.
func (t *Tick) Run(ctx context.Context) error {
	slog.Info("worker tick started", "schedule", t.schedule)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		due, err := t.gron.IsDue(t.schedule, time.Now())
		if err != nil || !due {
			continue
		}

		t.runPass(ctx)
	}
}

func (t *Tick) runPass(ctx context.Context) {
	if reaper, ok := t.jobs.(interface {
		Reap(ctx context.Context) (int, error)
	}); ok {
		if n, err := reaper.Reap(ctx); err != nil {
			slog.Warn("tick: reap failed", "error", err)
		} else if n > 0 {
			slog.Info("tick: stale deliveries requeued", "count", n)
		}
	}

	res := t.coord.RunOnce(ctx)
	if res.Status == "no_jobs" {
		return
	}
	slog.Info("tick: pass finished",
		"status", res.Status, "job", res.JobID, "remaining", res.RemainingJobs, "ms", res.ProcessingTime)
}
