package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run task workers (process, charge, callback, refund)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "orders-worker")
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.connect(ctx); err != nil {
				return err
			}

			q := a.queue()
			runner := queue.NewRunner(q, redisx.NewLocker(a.rdb), a.log, queue.Options{
				Workers:     a.cfg.WorkerCount,
				MaxAttempts: a.cfg.MaxAttempts,
				Backoff:     a.cfg.RetryBackoff,
				OverlapTTL:  a.cfg.OverlapTTL,
			})
			a.fulfillment(q).Register(runner)
			a.refunds(q).Register(runner)

			stale := a.cfg.OverlapTTL
			if stale <= 0 {
				stale = queue.DefaultOverlapTTL
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return runner.Run(gctx) })
			g.Go(func() error {
				recoverStale(gctx, q, stale, a.log)
				return nil
			})
			return g.Wait()
		},
	}
}

// recoverStale re-queues tasks whose worker died mid-run, at startup and
// then once per stale window.
func recoverStale(ctx context.Context, q *queue.RedisQueue, stale time.Duration, log *zap.Logger) {
	t := time.NewTicker(stale)
	defer t.Stop()
	for {
		if n, err := q.RecoverPending(ctx, stale); err != nil {
			log.Warn("recover pending tasks", zap.Error(err))
		} else if n > 0 {
			log.Info("recovered in-flight tasks", zap.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "orders-api")
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.connect(ctx); err != nil {
				return err
			}

			q := a.queue()
			router := httpx.NewRouter(a.log)
			oh := &httpx.OrdersHandler{
				Repo:    a.repo(),
				Refunds: a.refunds(q),
				KPI:     a.kpi(),
				Queue:   q,
				Cache:   redisx.NewCache(a.rdb),
				Log:     a.log,
			}
			oh.Register(router)
			srv := &http.Server{Addr: a.cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.log.Info("HTTP listening", zap.String("addr", a.cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				a.log.Info("shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
}

func newNotifierCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "notifier",
		Short: "Consume processed events and persist notification logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "orders-notifier")
			if err != nil {
				return err
			}
			defer a.close()
			if len(a.cfg.KafkaBrokers) == 0 {
				return errors.New("notifier needs KAFKA_BROKERS")
			}
			if err := a.connect(ctx); err != nil {
				return err
			}

			rec := &notify.Recorder{Store: a.repo(), Dedup: redisx.NewDedup(a.rdb), Scope: "notifier", Log: a.log}
			g, gctx := errgroup.WithContext(ctx)
			for _, topic := range []string{orders.TopicOrderProcessed, orders.TopicRefundProcessed} {
				cons := kafkax.NewConsumer(a.cfg.KafkaBrokers, a.cfg.NotifierGroup, topic, workers, a.log)
				a.log.Info("consumer started", zap.String("group", a.cfg.NotifierGroup), zap.String("topic", topic), zap.Int("workers", workers))
				g.Go(func() error { return cons.Start(gctx, rec.Handle) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "handler goroutines per topic")
	return cmd
}
