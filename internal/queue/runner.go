package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Handler returns nil when the task is done and may be dropped.
type Handler func(ctx context.Context, t Task) error

// Exhauster runs once when a task used its last attempt.
type Exhauster func(ctx context.Context, t Task, err error)

// Locker is the non-blocking half of redisx.Locker, used as overlap guard.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// DefaultOverlapTTL also bounds how long a claimed task may run before
// RecoverPending treats its worker as gone.
const DefaultOverlapTTL = 60 * time.Second

type Options struct {
	Workers      int
	MaxAttempts  int           // overrides Task.MaxAttempts when > 0
	Backoff      time.Duration // delay = Backoff * attempt
	OverlapTTL   time.Duration
	BusyDelay    time.Duration // re-check delay when the overlap key is held
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.Backoff <= 0 {
		o.Backoff = 5 * time.Second
	}
	if o.OverlapTTL <= 0 {
		o.OverlapTTL = DefaultOverlapTTL
	}
	if o.BusyDelay <= 0 {
		o.BusyDelay = 250 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	return o
}

// Runner is a fixed worker pool over a Source.
type Runner struct {
	src   Source
	locks Locker
	log   *zap.Logger
	opts  Options

	mu        sync.RWMutex
	handlers  map[string]Handler
	exhausted map[string]Exhauster

	tracer trace.Tracer
}

func NewRunner(src Source, locks Locker, log *zap.Logger, opts Options) *Runner {
	return &Runner{
		src:       src,
		locks:     locks,
		log:       log,
		opts:      opts.withDefaults(),
		handlers:  map[string]Handler{},
		exhausted: map[string]Exhauster{},
		tracer:    otel.Tracer("orders/queue"),
	}
}

func (r *Runner) Handle(typ string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

func (r *Runner) OnExhausted(typ string, fn Exhauster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted[typ] = fn
}

// Run blocks until ctx is cancelled and every worker has returned.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.work(ctx, id)
		}(i)
	}
	r.log.Info("workers started", zap.Int("workers", r.opts.Workers))
	wg.Wait()
	r.log.Info("workers stopped")
	return nil
}

func (r *Runner) work(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		t, err := r.src.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Warn("dequeue failed", zap.Int("worker", id), zap.Error(err))
			}
			r.sleep(ctx, time.Second)
			continue
		}
		if t == nil {
			r.sleep(ctx, r.opts.PollInterval)
			continue
		}
		r.Process(ctx, *t)
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Process executes one dequeued task: overlap guard, handler, then
// complete / retry / exhaust bookkeeping.
func (r *Runner) Process(ctx context.Context, t Task) {
	// bookkeeping tetap jalan walau ctx worker sudah cancel
	bg := context.WithoutCancel(ctx)
	log := r.log.With(zap.String("task_id", t.ID), zap.String("task_type", t.Type), zap.String("entity_id", t.EntityID))

	release, ok, err := r.locks.TryAcquire(ctx, redisx.Overlap(t.Type, t.EntityID), r.opts.OverlapTTL)
	if err != nil || !ok {
		if err != nil {
			log.Warn("overlap guard unavailable", zap.Error(err))
		}
		// bukan attempt, cuma ditunda
		if err := r.src.Reschedule(bg, t, r.opts.BusyDelay); err != nil {
			log.Error("reschedule busy task", zap.Error(err))
		}
		return
	}
	defer func() {
		if err := release(bg); err != nil {
			log.Warn("release overlap guard", zap.Error(err))
		}
	}()

	r.mu.RLock()
	h := r.handlers[t.Type]
	onExhausted := r.exhausted[t.Type]
	r.mu.RUnlock()

	if h == nil {
		log.Error("no handler for task type, dropping")
		_ = r.src.Complete(bg, t)
		return
	}

	err = r.run(ctx, h, t)
	t.Attempt++
	if err == nil {
		if err := r.src.Complete(bg, t); err != nil {
			log.Warn("complete task", zap.Error(err))
		}
		return
	}

	limit := t.MaxAttempts
	if r.opts.MaxAttempts > 0 {
		limit = r.opts.MaxAttempts
	}
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	if t.Attempt >= limit || IsPermanent(err) {
		log.Error("task exhausted", zap.Int("attempt", t.Attempt), zap.Error(err))
		if onExhausted != nil {
			onExhausted(bg, t, err)
		}
		if err := r.src.Complete(bg, t); err != nil {
			log.Warn("complete exhausted task", zap.Error(err))
		}
		return
	}

	delay := r.opts.Backoff * time.Duration(t.Attempt)
	log.Warn("task failed, retrying", zap.Int("attempt", t.Attempt), zap.Duration("delay", delay), zap.Error(err))
	if err := r.src.Reschedule(bg, t, delay); err != nil {
		log.Error("reschedule failed task", zap.Error(err))
	}
}

func (r *Runner) run(ctx context.Context, h Handler, t Task) (err error) {
	ctx, span := r.tracer.Start(ctx, "task "+t.Type, trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.entity_id", t.EntityID),
		attribute.Int("task.attempt", t.Attempt+1),
	))
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panic: %v", p)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return h(ctx, t)
}

// Permanent marks an error that retrying cannot fix.
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

func IsPermanent(err error) bool {
	var p *Permanent
	return errors.As(err, &p)
}
