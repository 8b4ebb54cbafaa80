//go:build integration

package redisbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/backoffice/internal/domain/event"
	"github.com/xenking/backoffice/internal/eventbus"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	addr, err := c.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestBus_RetryAndRetention(t *testing.T) {
	rdb := startRedis(t)

	b, err := New(rdb, "test", eventbus.Options{
		Policy:      eventbus.Policy{Attempts: 3, Backoff: 50 * time.Millisecond, KeepCompleted: 2, KeepFailed: 10},
		Concurrency: 2,
	})
	require.NoError(t, err)
	b.promoteInterval = 20 * time.Millisecond
	b.pollTimeout = 100 * time.Millisecond

	var flaky atomic.Int32
	b.Subscribe(event.KindOrderCreated, func(_ context.Context, e event.Envelope) error {
		switch e.OrderCreated.OrderID {
		case "flaky":
			if flaky.Add(1) < 3 {
				return errors.New("try again")
			}
			return nil
		case "broken":
			return errors.New("always fails")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	for _, id := range []string{"ok-1", "ok-2", "ok-3", "flaky", "broken"} {
		require.NoError(t, b.Publish(context.Background(), envelope(id)))
	}

	require.Eventually(t, func() bool {
		s, err := b.Stats(context.Background())
		return err == nil && s.Waiting == 0 && s.Active == 0 && s.Delayed == 0 && s.Failed == 1
	}, 10*time.Second, 20*time.Millisecond)

	stats, err := b.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Completed, "completed list is trimmed")

	failed, err := b.Failed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Equal(t, "always fails", failed[0].LastError)
	assert.Equal(t, int32(3), flaky.Load())

	completed, err := b.Completed(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	none, err := b.Completed(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBus_RecoversStalledJobs(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	b, err := New(rdb, "stalled", eventbus.Options{Policy: eventbus.DefaultPolicy()})
	require.NoError(t, err)
	b.pollTimeout = 100 * time.Millisecond

	// Simulate a worker that died after taking a job.
	data, err := eventbus.NewJob(envelope("stalled"), time.Now()).Marshal()
	require.NoError(t, err)
	require.NoError(t, rdb.LPush(ctx, b.keys.active, data).Err())

	delivered := make(chan string, 1)
	b.Subscribe(event.KindOrderCreated, func(_ context.Context, e event.Envelope) error {
		delivered <- e.OrderCreated.OrderID
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- b.Run(runCtx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	select {
	case id := <-delivered:
		assert.Equal(t, "stalled", id)
	case <-time.After(5 * time.Second):
		t.Fatal("stalled job was not redelivered")
	}
}
