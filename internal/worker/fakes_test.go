package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/askgate/internal/chat"
	"github.com/nextlevelbuilder/askgate/internal/queue"
)

type postCall struct {
	channel  string
	text     string
	threadTs string
}

type updateCall struct {
	handle chat.MessageHandle
	text   string
}

// fakeChat records outbound messages. updateHook, when set, decides the error
// for each update in order (both retried and single-shot variants).
type fakeChat struct {
	mu         sync.Mutex
	posts      []postCall
	updates    []updateCall
	attempts   int
	postErr    error
	updateHook func(call int, text string) error
}

func (f *fakeChat) PostMessage(_ context.Context, channel, text, threadTs string) (chat.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return chat.MessageHandle{}, f.postErr
	}
	f.posts = append(f.posts, postCall{channel: channel, text: text, threadTs: threadTs})
	return chat.MessageHandle{Channel: channel, Ts: "1700000000.000100"}, nil
}

func (f *fakeChat) UpdateMessage(ctx context.Context, handle chat.MessageHandle, text string) error {
	return f.UpdateMessageOnce(ctx, handle, text)
}

func (f *fakeChat) UpdateMessageOnce(_ context.Context, handle chat.MessageHandle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.attempts
	f.attempts++
	if f.updateHook != nil {
		if err := f.updateHook(call, text); err != nil {
			return err
		}
	}
	f.updates = append(f.updates, updateCall{handle: handle, text: text})
	return nil
}

func (f *fakeChat) updateTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.updates))
	for i, u := range f.updates {
		out[i] = u.text
	}
	return out
}

func (f *fakeChat) lastUpdate() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return "", false
	}
	return f.updates[len(f.updates)-1].text, true
}

func (f *fakeChat) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

// fakeEngine answers after an optional delay, or streams chunks with a gap
// between them. Both paths respect cancellation.
type fakeEngine struct {
	text     string
	err      error
	delay    time.Duration
	chunks   []string
	chunkGap time.Duration
}

func (f *fakeEngine) Generate(ctx context.Context, _ string) (string, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.text, f.err
}

func (f *fakeEngine) Stream(ctx context.Context, _ string, onChunk func(partial string)) (string, error) {
	var acc string
	for _, c := range f.chunks {
		if f.chunkGap > 0 {
			select {
			case <-ctx.Done():
				return acc, ctx.Err()
			case <-time.After(f.chunkGap):
			}
		}
		acc += c
		onChunk(acc)
	}
	if f.err != nil {
		return acc, f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return acc, nil
}

// fakeQueue is an in-memory queue.Queue with delivery tokens.
type fakeQueue struct {
	mu       sync.Mutex
	jobs     []queue.Job
	inflight map[string]queue.Job
	verified []string
	enqueued []queue.Job
}

func newFakeQueue(jobs ...queue.Job) *fakeQueue {
	return &fakeQueue{jobs: jobs, inflight: make(map[string]queue.Job)}
}

func (q *fakeQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *fakeQueue) Dequeue(_ context.Context) (*queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	token := uuid.NewString()
	q.inflight[token] = job
	return &queue.Message{Job: job, Token: token}, nil
}

func (q *fakeQueue) Verify(_ context.Context, token string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[token]; !ok {
		return false, nil
	}
	delete(q.inflight, token)
	q.verified = append(q.verified, token)
	return true, nil
}

func (q *fakeQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}

func (q *fakeQueue) verifiedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.verified)
}
