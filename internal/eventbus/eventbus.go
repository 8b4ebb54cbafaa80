// Package eventbus delivers domain events to asynchronous consumers with
// at-least-once semantics: failed jobs are retried with exponential backoff
// and eventually parked in a bounded failed list for inspection.
package eventbus

import (
	"context"
	"time"

	"github.com/xenking/backoffice/internal/domain/event"
)

// Handler consumes one event. A returned error schedules a retry.
type Handler func(ctx context.Context, e event.Envelope) error

// Bus is a retrying job queue keyed by event kind.
type Bus interface {
	event.Publisher
	// Subscribe registers the handler for kind. Must be called before Run.
	Subscribe(kind event.Kind, h Handler)
	// Run processes jobs until ctx is done.
	Run(ctx context.Context) error
}

// Stats is a snapshot of queue sizes.
type Stats struct {
	Waiting   int64
	Active    int64
	Delayed   int64
	Completed int64
	Failed    int64
}

// Inspector exposes retained jobs.
type Inspector interface {
	Stats(ctx context.Context) (Stats, error)
	// Failed returns up to limit most recently failed jobs, newest first.
	Failed(ctx context.Context, limit int) ([]Job, error)
	// Completed returns up to limit most recently completed jobs, newest
	// first. A non-positive limit yields no jobs.
	Completed(ctx context.Context, limit int) ([]Job, error)
}

// Policy controls retries and retention.
type Policy struct {
	Attempts      int           `default:"3"    usage:"Delivery attempts per job"`
	Backoff       time.Duration `default:"2s"   usage:"Initial retry delay, doubled per attempt"`
	KeepCompleted int           `default:"100"  usage:"Completed jobs to retain" flag:"keep-completed"`
	KeepFailed    int           `default:"1000" usage:"Failed jobs to retain" flag:"keep-failed"`
}

// DefaultPolicy returns 3 attempts with 2s exponential backoff, keeping the
// last 100 completed and 1000 failed jobs.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:      3,
		Backoff:       2 * time.Second,
		KeepCompleted: 100,
		KeepFailed:    1000,
	}
}

// Delay returns the wait before the next attempt after attempt failed
// attempts: Backoff, 2*Backoff, 4*Backoff and so on.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.Backoff << (attempt - 1)
}

// Exhausted reports whether a job that has made attempts attempts is done
// retrying.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= max(p.Attempts, 1)
}
