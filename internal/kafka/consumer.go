package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	log     *zap.Logger

	// RetryBackoff is the first delay before re-running a failed handler;
	// it doubles up to maxRetryBackoff.
	RetryBackoff time.Duration
}

const (
	workerBuffer    = 16
	maxRetryBackoff = 30 * time.Second
)

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log, RetryBackoff: 500 * time.Millisecond}
}

// Start fetches until ctx is cancelled or the reader fails, then waits for
// in-flight handlers before closing the reader.
//
// A partition always goes to the same worker, so its messages are handled
// and committed in offset order. A failed message is retried until it
// succeeds; commit offset di kafka kumulatif, jadi offset setelahnya tidak
// boleh di-commit lebih dulu. On shutdown the partition stops at the
// failed message and it is read again after restart.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup

	for i := range jobs {
		jobs[i] = make(chan kafka.Message, workerBuffer)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			stuck := map[int]bool{}
			for m := range in {
				if stuck[m.Partition] {
					continue
				}
				if !c.handle(ctx, id, h, m) {
					stuck[m.Partition] = true
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					c.log.Warn("commit failed", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
				}
			}
		}(i, jobs[i])
	}

	var runErr error
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			// kecilkan noise saat shutdown
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				runErr = err
			}
			break
		}
		select {
		case jobs[m.Partition%c.workers] <- m:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	for _, ch := range jobs {
		close(ch)
	}
	wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.r.Close() }()
	select {
	case err := <-done:
		if runErr == nil && err != nil {
			runErr = err
		}
	case <-closeCtx.Done():
	}
	return runErr
}

// handle runs h until it succeeds. false means ctx ended first.
func (c *Consumer) handle(ctx context.Context, worker int, h Handler, m kafka.Message) bool {
	backoff := c.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Warn("handler failed", zap.Int("worker", worker), zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}
