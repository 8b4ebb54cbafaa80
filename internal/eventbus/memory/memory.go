// Package memory implements an in-process event bus with the same retry and
// retention behaviour as the Redis bus. Jobs are lost on restart.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xenking/backoffice/internal/domain/event"
	"github.com/xenking/backoffice/internal/eventbus"
)

var (
	_ eventbus.Bus       = (*Bus)(nil)
	_ eventbus.Inspector = (*Bus)(nil)
)

// Bus is an in-process eventbus.Bus.
type Bus struct {
	*eventbus.Processor

	mu        sync.Mutex
	wait      []eventbus.Job
	active    int
	delayed   int
	completed []eventbus.Job
	failed    []eventbus.Job
	notify    chan struct{}
}

// New creates a Bus.
func New(opts eventbus.Options) (*Bus, error) {
	p, err := eventbus.NewProcessor(opts)
	if err != nil {
		return nil, err
	}
	return &Bus{
		Processor: p,
		notify:    make(chan struct{}, 1),
	}, nil
}

// Publish enqueues e.
func (b *Bus) Publish(ctx context.Context, e event.Envelope) error {
	j := eventbus.NewJob(e, b.Now())
	b.push(j)
	b.Published(ctx, j)
	return nil
}

func (b *Bus) push(j eventbus.Job) {
	b.mu.Lock()
	b.wait = append(b.wait, j)
	b.mu.Unlock()
	b.wake()
}

// requeue moves a delayed job back to the wait queue.
func (b *Bus) requeue(j eventbus.Job) {
	b.mu.Lock()
	b.delayed--
	b.wait = append(b.wait, j)
	b.mu.Unlock()
	b.wake()
}

func (b *Bus) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bus) pop() (eventbus.Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.wait) == 0 {
		return eventbus.Job{}, false
	}
	j := b.wait[0]
	b.wait = b.wait[1:]
	b.active++
	// Wake another worker if more jobs are queued.
	if len(b.wait) > 0 {
		b.wake()
	}
	return j, true
}

// Run processes jobs with Concurrency workers until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for range b.Concurrency {
		g.Go(func() error {
			b.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (b *Bus) work(ctx context.Context) {
	for {
		j, ok := b.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-b.notify:
				continue
			}
		}

		outcome, delay := b.Process(ctx, &j)

		b.mu.Lock()
		b.active--
		switch outcome {
		case eventbus.Completed:
			b.completed = keepLast(append(b.completed, j), b.Policy.KeepCompleted)
		case eventbus.Failed:
			b.failed = keepLast(append(b.failed, j), b.Policy.KeepFailed)
		case eventbus.Retry:
			b.delayed++
		}
		b.mu.Unlock()

		if outcome == eventbus.Retry {
			time.AfterFunc(delay, func() { b.requeue(j) })
		}
	}
}

func keepLast(jobs []eventbus.Job, n int) []eventbus.Job {
	if n < 0 {
		n = 0
	}
	if len(jobs) <= n {
		return jobs
	}
	return slices.Clone(jobs[len(jobs)-n:])
}

// Stats returns queue sizes.
func (b *Bus) Stats(context.Context) (eventbus.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return eventbus.Stats{
		Waiting:   int64(len(b.wait)),
		Active:    int64(b.active),
		Delayed:   int64(b.delayed),
		Completed: int64(len(b.completed)),
		Failed:    int64(len(b.failed)),
	}, nil
}

// Failed returns up to limit most recently failed jobs, newest first.
func (b *Bus) Failed(_ context.Context, limit int) ([]eventbus.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return newestFirst(b.failed, limit), nil
}

// Completed returns up to limit most recently completed jobs, newest first.
func (b *Bus) Completed(_ context.Context, limit int) ([]eventbus.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return newestFirst(b.completed, limit), nil
}

func newestFirst(jobs []eventbus.Job, limit int) []eventbus.Job {
	if limit <= 0 {
		return nil
	}
	out := slices.Clone(jobs)
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
