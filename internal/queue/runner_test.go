package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/memory"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func newRunner(t *testing.T, q *memory.Queue, locks *memory.Locker) *queue.Runner {
	return queue.NewRunner(q, locks, zaptest.NewLogger(t), queue.Options{
		Workers:      4,
		Backoff:      time.Millisecond,
		BusyDelay:    time.Millisecond,
		PollInterval: time.Millisecond,
	})
}

func TestNewTaskDefaults(t *testing.T) {
	task, err := queue.NewTask("charge_order", "o1", map[string]bool{"succeeded": true})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, queue.DefaultMaxAttempts, task.MaxAttempts)
	assert.Zero(t, task.Attempt)

	var p map[string]bool
	require.NoError(t, task.Decode(&p))
	assert.True(t, p["succeeded"])

	empty, err := queue.NewTask("process_order", "o1", nil)
	require.NoError(t, err)
	assert.Error(t, empty.Decode(&p))
}

func TestProcessCompletesOnSuccess(t *testing.T) {
	q, locks := memory.NewQueue(), memory.NewLocker()
	r := newRunner(t, q, locks)

	var calls int
	r.Handle("x", func(ctx context.Context, task queue.Task) error {
		calls++
		assert.True(t, locks.Held(redisx.Overlap("x", "e1")), "overlap guard held while running")
		return nil
	})
	require.NoError(t, queue.Dispatch(context.Background(), q, "x", "e1", nil, 0))

	n := q.Drain(context.Background(), r.Process, 10)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
	assert.Empty(t, q.Pending())
	assert.Zero(t, q.InFlight())
	assert.False(t, locks.Held(redisx.Overlap("x", "e1")))
}

func TestProcessRetriesThenExhausts(t *testing.T) {
	q, locks := memory.NewQueue(), memory.NewLocker()
	r := newRunner(t, q, locks)

	boom := errors.New("boom")
	var calls int
	var exhausted []queue.Task
	r.Handle("x", func(ctx context.Context, task queue.Task) error {
		calls++
		return boom
	})
	r.OnExhausted("x", func(ctx context.Context, task queue.Task, err error) {
		assert.ErrorIs(t, err, boom)
		exhausted = append(exhausted, task)
	})
	require.NoError(t, queue.Dispatch(context.Background(), q, "x", "e1", nil, 0))

	q.Drain(context.Background(), r.Process, 10)
	assert.Equal(t, queue.DefaultMaxAttempts, calls)
	require.Len(t, exhausted, 1)
	assert.Equal(t, queue.DefaultMaxAttempts, exhausted[0].Attempt)
	assert.Empty(t, q.Pending())
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	q, locks := memory.NewQueue(), memory.NewLocker()
	r := newRunner(t, q, locks)

	var calls int
	r.Handle("x", func(ctx context.Context, task queue.Task) error {
		calls++
		return &queue.Permanent{Err: errors.New("bad payload")}
	})
	require.NoError(t, queue.Dispatch(context.Background(), q, "x", "e1", nil, 0))

	q.Drain(context.Background(), r.Process, 10)
	assert.Equal(t, 1, calls)
}

func TestBusyOverlapKeyIsRescheduledWithoutAttempt(t *testing.T) {
	q, locks := memory.NewQueue(), memory.NewLocker()
	r := newRunner(t, q, locks)
	r.Handle("x", func(ctx context.Context, task queue.Task) error { return nil })

	release, ok, err := locks.TryAcquire(context.Background(), redisx.Overlap("x", "e1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	task, err := queue.NewTask("x", "e1", nil)
	require.NoError(t, err)
	r.Process(context.Background(), task)

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].Attempt)

	require.NoError(t, release(context.Background()))
	q.Drain(context.Background(), r.Process, 10)
	assert.Empty(t, q.Pending())
}

func TestPanicIsRetried(t *testing.T) {
	q, locks := memory.NewQueue(), memory.NewLocker()
	r := newRunner(t, q, locks)

	var calls int
	r.Handle("x", func(ctx context.Context, task queue.Task) error {
		calls++
		if calls == 1 {
			panic("first run")
		}
		return nil
	})
	require.NoError(t, queue.Dispatch(context.Background(), q, "x", "e1", nil, 0))

	q.Drain(context.Background(), r.Process, 10)
	assert.Equal(t, 2, calls)
}

func TestRunOneExecutionPerKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	q, locks := memory.NewQueue(), memory.NewLocker()
	r := newRunner(t, q, locks)

	var running, maxRunning, done int32
	var wg sync.WaitGroup
	wg.Add(6)
	r.Handle("x", func(ctx context.Context, task queue.Task) error {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&done, 1)
		wg.Done()
		return nil
	})
	for i := 0; i < 6; i++ {
		require.NoError(t, queue.Dispatch(context.Background(), q, "x", "same-entity", nil, 0))
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	waitOrFail(t, &wg, 5*time.Second)
	cancel()
	require.NoError(t, <-errc)

	assert.EqualValues(t, 6, atomic.LoadInt32(&done))
	assert.EqualValues(t, 1, atomic.LoadInt32(&maxRunning))
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out waiting for tasks")
	}
}

func TestRunnerMaxAttemptsOverridesTask(t *testing.T) {
	q, locks := memory.NewQueue(), memory.NewLocker()
	r := queue.NewRunner(q, locks, zaptest.NewLogger(t), queue.Options{MaxAttempts: 5, Backoff: time.Millisecond})

	var calls int
	r.Handle("x", func(ctx context.Context, task queue.Task) error {
		calls++
		return errors.New("nope")
	})
	require.NoError(t, queue.Dispatch(context.Background(), q, "x", "e1", nil, 0))

	q.Drain(context.Background(), r.Process, 20)
	assert.Equal(t, 5, calls)
}
