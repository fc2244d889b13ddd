// Package refunds validates refund requests and applies them to the KPI
// aggregate exactly once per refund.
package refunds

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"go.uber.org/zap"
)

const TaskProcessRefund = "process_refund"

type Store interface {
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	FindOrderByExternalID(ctx context.Context, externalID string) (orders.Order, error)
	CreateRefund(ctx context.Context, rf orders.Refund) (orders.Refund, bool, error)
	GetRefund(ctx context.Context, refundID string) (orders.Refund, error)
	MarkRefundFailed(ctx context.Context, refundID string) (bool, error)
	ProcessRefund(ctx context.Context, refundID string, apply func(ctx context.Context, rf orders.Refund) error) (orders.Refund, bool, error)
}

type Metrics interface {
	RecordRefund(ctx context.Context, refundID, customerID string, amountCents int) error
}

type Service struct {
	Store    Store
	Queue    queue.Enqueuer
	KPI      Metrics
	Notifier notify.Notifier // optional
	Producer string
	Log      *zap.Logger
}

// Request creates a REQUESTED refund and schedules its processing.
// orderRef is an order id or an external order id. A key that was used
// before returns the earlier refund with created=false and schedules nothing.
func (s *Service) Request(ctx context.Context, orderRef string, amountCents int, key, reason string) (orders.Refund, bool, error) {
	o, err := s.Store.GetOrder(ctx, orderRef)
	if errors.Is(err, orders.ErrNotFound) {
		o, err = s.Store.FindOrderByExternalID(ctx, orderRef)
	}
	if err != nil {
		return orders.Refund{}, false, fmt.Errorf("order %s: %w", orderRef, err)
	}
	if err := checkAmount(amountCents, o.TotalCents); err != nil {
		return orders.Refund{}, false, err
	}

	rf, created, err := s.Store.CreateRefund(ctx, orders.Refund{
		OrderID:        o.ID,
		AmountCents:    amountCents,
		Reason:         reason,
		IdempotencyKey: key,
	})
	if err != nil {
		return orders.Refund{}, false, fmt.Errorf("create refund: %w", err)
	}
	if !created {
		s.Log.Info("refund key already used", zap.String("refund_id", rf.ID), zap.String("key", key))
		return rf, false, nil
	}
	if err := queue.Dispatch(ctx, s.Queue, TaskProcessRefund, rf.ID, nil, 0); err != nil {
		return rf, true, err
	}
	s.Log.Info("refund queued", zap.String("refund_id", rf.ID), zap.String("order_id", o.ID), zap.Int("amount_cents", amountCents))
	return rf, true, nil
}

// ProcessRefund only looks at the order's current total; earlier refunds of
// the same order are not subtracted.
func (s *Service) ProcessRefund(ctx context.Context, refundID string) error {
	rf, err := s.Store.GetRefund(ctx, refundID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load refund %s: %w", refundID, err)
	}
	if err := orders.GuardRefund(rf); err != nil {
		return nil
	}
	log := s.Log.With(zap.String("refund_id", rf.ID), zap.String("order_id", rf.OrderID))

	o, err := s.Store.GetOrder(ctx, rf.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		return s.fail(ctx, log, rf.ID, "order not found")
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", rf.OrderID, err)
	}
	if err := checkAmount(rf.AmountCents, o.TotalCents); err != nil {
		return s.fail(ctx, log, rf.ID, err.Error())
	}

	done, applied, err := s.Store.ProcessRefund(ctx, rf.ID, func(ctx context.Context, rf orders.Refund) error {
		return s.KPI.RecordRefund(ctx, rf.ID, o.CustomerID, rf.AmountCents)
	})
	if err != nil {
		return fmt.Errorf("process refund %s: %w", rf.ID, err)
	}
	if !applied {
		return nil
	}
	log.Info("refund processed", zap.Int("amount_cents", done.AmountCents))
	if s.Notifier != nil {
		if err := s.Notifier.Publish(ctx, orders.TopicRefundProcessed, notify.RefundProcessed(done, s.Producer)); err != nil {
			log.Warn("notification not sent", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) fail(ctx context.Context, log *zap.Logger, refundID, reason string) error {
	applied, err := s.Store.MarkRefundFailed(ctx, refundID)
	if err != nil {
		return fmt.Errorf("mark refund failed %s: %w", refundID, err)
	}
	if applied {
		log.Warn("refund failed", zap.String("reason", reason))
	}
	return nil
}

func checkAmount(amount, total int) error {
	if amount < 1 || amount > total {
		return orders.Invalid("amount_cents", "must be between 1 and %d, got %d", total, amount)
	}
	return nil
}

func (s *Service) Register(r *queue.Runner) {
	r.Handle(TaskProcessRefund, func(ctx context.Context, t queue.Task) error {
		return s.ProcessRefund(ctx, t.EntityID)
	})
}
