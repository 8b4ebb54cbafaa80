// Package redisbus implements eventbus.Bus on Redis lists.
//
// Layout for queue q:
//
//	q:wait       list, LPUSH on publish, consumed from the right
//	q:active     list, jobs currently being processed
//	q:delayed    sorted set of jobs waiting for a retry, scored by due time (ms)
//	q:completed  list, newest first, trimmed to Policy.KeepCompleted
//	q:failed     list, newest first, trimmed to Policy.KeepFailed
//
// Workers move jobs from wait to active with BLMOVE so a crashed worker
// leaves its job in active; Run moves such stalled jobs back to wait on
// start. A single consumer process per queue is assumed.
package redisbus

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/domain/event"
	"github.com/xenking/backoffice/internal/eventbus"
)

var (
	_ eventbus.Bus       = (*Bus)(nil)
	_ eventbus.Inspector = (*Bus)(nil)
)

// promoteScript moves up to ARGV[2] delayed jobs due at ARGV[1] to the wait
// list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, job in ipairs(due) do
	redis.call('ZREM', KEYS[1], job)
	redis.call('LPUSH', KEYS[2], job)
end
return #due
`)

const (
	defaultPollTimeout     = time.Second
	defaultPromoteInterval = 500 * time.Millisecond
	promoteBatch           = 100
)

type keys struct {
	wait, active, delayed, completed, failed string
}

func newKeys(queue string) keys {
	return keys{
		wait:      queue + ":wait",
		active:    queue + ":active",
		delayed:   queue + ":delayed",
		completed: queue + ":completed",
		failed:    queue + ":failed",
	}
}

// Bus is a Redis-backed eventbus.Bus.
type Bus struct {
	*eventbus.Processor

	rdb  redis.UniversalClient
	keys keys

	pollTimeout     time.Duration
	promoteInterval time.Duration
}

// New creates a Bus on queue.
func New(rdb redis.UniversalClient, queue string, opts eventbus.Options) (*Bus, error) {
	p, err := eventbus.NewProcessor(opts)
	if err != nil {
		return nil, err
	}
	return &Bus{
		Processor:       p,
		rdb:             rdb,
		keys:            newKeys(queue),
		pollTimeout:     defaultPollTimeout,
		promoteInterval: defaultPromoteInterval,
	}, nil
}

// Publish enqueues e. Redis failures are reported as transient.
func (b *Bus) Publish(ctx context.Context, e event.Envelope) error {
	j := eventbus.NewJob(e, b.Now())
	data, err := j.Marshal()
	if err != nil {
		return errors.Wrap(err, "encode job")
	}
	if err := b.rdb.LPush(ctx, b.keys.wait, data).Err(); err != nil {
		return errs.Transient("enqueue "+j.Name, err)
	}
	b.Published(ctx, j)
	return nil
}

// Run recovers stalled jobs and then processes the queue until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	if err := b.recoverStalled(ctx); err != nil {
		return errors.Wrap(err, "recover stalled jobs")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.promoteLoop(ctx)
	})
	for range b.Concurrency {
		g.Go(func() error {
			return b.work(ctx)
		})
	}
	return g.Wait()
}

func (b *Bus) recoverStalled(ctx context.Context) error {
	lg := zctx.From(ctx)
	n := 0
	for {
		err := b.rdb.LMove(ctx, b.keys.active, b.keys.wait, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return err
		}
		n++
	}
	if n > 0 {
		lg.Warn("Recovered stalled jobs", zap.Int("count", n))
	}
	return nil
}

func (b *Bus) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := b.promote(ctx); err != nil && ctx.Err() == nil {
			zctx.From(ctx).Warn("Promote delayed jobs", zap.Error(err))
		}
	}
}

func (b *Bus) promote(ctx context.Context) (int, error) {
	return promoteScript.Run(ctx, b.rdb,
		[]string{b.keys.delayed, b.keys.wait},
		b.Now().UnixMilli(), promoteBatch,
	).Int()
}

func (b *Bus) work(ctx context.Context) error {
	lg := zctx.From(ctx)
	for {
		raw, err := b.rdb.BLMove(ctx, b.keys.wait, b.keys.active, "RIGHT", "LEFT", b.pollTimeout).Result()
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			lg.Warn("Fetch job", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.pollTimeout):
			}
			continue
		}

		// Finish the job even if shutdown starts mid-way.
		if err := b.handle(context.WithoutCancel(ctx), raw); err != nil {
			lg.Error("Settle job", zap.Error(err))
		}
	}
}

func (b *Bus) handle(ctx context.Context, raw string) error {
	j, err := eventbus.UnmarshalJob([]byte(raw))
	if err != nil {
		// Undecodable payloads cannot succeed on retry.
		_, txErr := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, b.keys.active, 1, raw)
			pipe.LPush(ctx, b.keys.failed, raw)
			pipe.LTrim(ctx, b.keys.failed, 0, int64(b.Policy.KeepFailed)-1)
			return nil
		})
		if txErr != nil {
			return errors.Wrap(txErr, "park undecodable job")
		}
		return errors.Wrap(err, "decode job")
	}

	outcome, delay := b.Process(ctx, &j)
	data, err := j.Marshal()
	if err != nil {
		return errors.Wrap(err, "encode job")
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.keys.active, 1, raw)
		switch outcome {
		case eventbus.Completed:
			pipe.LPush(ctx, b.keys.completed, data)
			pipe.LTrim(ctx, b.keys.completed, 0, int64(b.Policy.KeepCompleted)-1)
		case eventbus.Failed:
			pipe.LPush(ctx, b.keys.failed, data)
			pipe.LTrim(ctx, b.keys.failed, 0, int64(b.Policy.KeepFailed)-1)
		case eventbus.Retry:
			pipe.ZAdd(ctx, b.keys.delayed, redis.Z{
				Score:  float64(b.Now().Add(delay).UnixMilli()),
				Member: data,
			})
		}
		return nil
	})
	return errors.Wrapf(err, "settle job %s", j.ID)
}

// Stats returns queue sizes.
func (b *Bus) Stats(ctx context.Context) (eventbus.Stats, error) {
	var (
		wait, active, completed, failed *redis.IntCmd
		delayed                         *redis.IntCmd
	)
	if _, err := b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		wait = pipe.LLen(ctx, b.keys.wait)
		active = pipe.LLen(ctx, b.keys.active)
		delayed = pipe.ZCard(ctx, b.keys.delayed)
		completed = pipe.LLen(ctx, b.keys.completed)
		failed = pipe.LLen(ctx, b.keys.failed)
		return nil
	}); err != nil {
		return eventbus.Stats{}, errs.Transient("queue stats", err)
	}
	return eventbus.Stats{
		Waiting:   wait.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Failed returns up to limit most recently failed jobs, newest first.
// Entries that no longer decode are skipped.
func (b *Bus) Failed(ctx context.Context, limit int) ([]eventbus.Job, error) {
	return b.list(ctx, b.keys.failed, limit)
}

// Completed returns up to limit most recently completed jobs, newest first.
func (b *Bus) Completed(ctx context.Context, limit int) ([]eventbus.Job, error) {
	return b.list(ctx, b.keys.completed, limit)
}

func (b *Bus) list(ctx context.Context, key string, limit int) ([]eventbus.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	raws, err := b.rdb.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, errs.Transient("list "+key, err)
	}
	jobs := make([]eventbus.Job, 0, len(raws))
	for _, raw := range raws {
		j, err := eventbus.UnmarshalJob([]byte(raw))
		if err != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
