package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
)

type scheduled struct {
	task  queue.Task
	runAt time.Time
	seq   int
}

// Queue is an in-process queue.Source.
type Queue struct {
	mu         sync.Mutex
	seq        int
	pending    []scheduled
	processing map[string]queue.Task
	FailOn     error
}

func NewQueue() *Queue {
	return &Queue{processing: map[string]queue.Task{}}
}

func (q *Queue) Enqueue(_ context.Context, t queue.Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.FailOn != nil {
		return q.FailOn
	}
	q.seq++
	q.pending = append(q.pending, scheduled{task: t, runAt: time.Now().Add(delay), seq: q.seq})
	sort.SliceStable(q.pending, func(i, j int) bool {
		if !q.pending[i].runAt.Equal(q.pending[j].runAt) {
			return q.pending[i].runAt.Before(q.pending[j].runAt)
		}
		return q.pending[i].seq < q.pending[j].seq
	})
	return nil
}

func (q *Queue) Dequeue(_ context.Context) (*queue.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || q.pending[0].runAt.After(time.Now()) {
		return nil, nil
	}
	return q.pop(), nil
}

func (q *Queue) pop() *queue.Task {
	t := q.pending[0].task
	q.pending = q.pending[1:]
	q.processing[t.ID] = t
	return &t
}

func (q *Queue) Complete(_ context.Context, t queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, t.ID)
	return nil
}

func (q *Queue) Reschedule(ctx context.Context, t queue.Task, delay time.Duration) error {
	if err := q.Enqueue(ctx, t, delay); err != nil {
		return err
	}
	return q.Complete(ctx, t)
}

// Pending lists queued tasks in run order.
func (q *Queue) Pending() []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Task, 0, len(q.pending))
	for _, s := range q.pending {
		out = append(out, s.task)
	}
	return out
}

func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.processing)
}

// Drain feeds queued tasks to process in run order, ignoring their delays,
// until the queue is empty or limit tasks were handed out.
func (q *Queue) Drain(ctx context.Context, process func(context.Context, queue.Task), limit int) int {
	n := 0
	for n < limit {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			break
		}
		t := q.pop()
		q.mu.Unlock()
		process(ctx, *t)
		n++
	}
	return n
}
