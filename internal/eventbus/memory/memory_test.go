package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/backoffice/internal/domain/event"
	"github.com/xenking/backoffice/internal/eventbus"
)

func orderCreated(id string) event.Envelope {
	return event.NewOrderCreated(event.OrderCreated{
		OrderID:   id,
		UserID:    "u-1",
		Amount:    decimal.NewFromInt(1),
		Timestamp: time.Now(),
	})
}

func runBus(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func newBus(t *testing.T, policy eventbus.Policy, concurrency int) *Bus {
	t.Helper()
	b, err := New(eventbus.Options{Policy: policy, Concurrency: concurrency})
	require.NoError(t, err)
	return b
}

func TestBus_DeliversEachEvent(t *testing.T) {
	b := newBus(t, eventbus.DefaultPolicy(), 4)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	b.Subscribe(event.KindOrderCreated, func(_ context.Context, e event.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		seen[e.OrderCreated.OrderID]++
		return nil
	})
	runBus(t, b)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, b.Publish(context.Background(), orderCreated(id)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	for id, n := range seen {
		assert.Equal(t, 1, n, "event %s", id)
	}
	mu.Unlock()
}

func TestBus_RetriesWithBackoff(t *testing.T) {
	b := newBus(t, eventbus.Policy{Attempts: 3, Backoff: 10 * time.Millisecond, KeepCompleted: 10, KeepFailed: 10}, 1)

	var (
		calls atomic.Int32
		times []time.Time
		mu    sync.Mutex
	)
	b.Subscribe(event.KindOrderCreated, func(context.Context, event.Envelope) error {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	runBus(t, b)

	require.NoError(t, b.Publish(context.Background(), orderCreated("retry")))

	require.Eventually(t, func() bool {
		completed, err := b.Completed(context.Background(), 10)
		return err == nil && len(completed) == 1
	}, time.Second, 5*time.Millisecond)

	completed, err := b.Completed(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, completed[0].Attempts)
	assert.Equal(t, int32(3), calls.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 3)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 10*time.Millisecond)
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), 20*time.Millisecond)
}

func TestBus_FailedRetention(t *testing.T) {
	b := newBus(t, eventbus.Policy{Attempts: 2, Backoff: time.Millisecond, KeepCompleted: 1, KeepFailed: 2}, 2)
	b.Subscribe(event.KindOrderCreated, func(_ context.Context, e event.Envelope) error {
		if e.OrderCreated.OrderID == "ok" {
			return nil
		}
		return errors.New("permanent")
	})
	runBus(t, b)

	for _, id := range []string{"bad-1", "bad-2", "bad-3", "ok", "ok"} {
		require.NoError(t, b.Publish(context.Background(), orderCreated(id)))
	}

	require.Eventually(t, func() bool {
		s, _ := b.Stats(context.Background())
		return s.Waiting == 0 && s.Active == 0 && s.Delayed == 0 &&
			s.Failed == 2 && s.Completed == 1
	}, 2*time.Second, 5*time.Millisecond)

	failed, err := b.Failed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	for _, j := range failed {
		assert.Equal(t, 2, j.Attempts)
		assert.Equal(t, "permanent", j.LastError)
	}
}
