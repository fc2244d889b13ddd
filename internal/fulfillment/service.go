package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"go.uber.org/zap"
)

const (
	TaskProcessOrder    = "process_order"
	TaskChargeOrder     = "charge_order"
	TaskPaymentCallback = "payment_callback"
)

type Store interface {
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	MarkOrderFailed(ctx context.Context, orderID string) (bool, error)
	SettlePayment(ctx context.Context, orderID string, out orders.ChargeOutcome) (orders.Order, bool, error)
}

type Reserver interface {
	Reserve(ctx context.Context, orderID string) (orders.ReserveResult, error)
}

type Metrics interface {
	RecordSuccess(ctx context.Context, orderID, customerID string, amountCents int) error
	RecordFailure(ctx context.Context, orderID, customerID string, amountCents int) error
}

type Service struct {
	Store       Store
	Reserver    Reserver
	Queue       queue.Enqueuer
	KPI         Metrics
	Notifier    notify.Notifier
	Gateway     Gateway
	ChargeDelay time.Duration
	Producer    string
	Log         *zap.Logger
}

// CallbackPayload is the payment_callback task body.
type CallbackPayload struct {
	Succeeded   bool   `json:"succeeded"`
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref,omitempty"`
}

// ProcessOrder runs the reservation step for a PENDING order.
// Insufficient stock fails the order; success schedules the charge.
func (s *Service) ProcessOrder(ctx context.Context, orderID string) error {
	o, ok, err := s.load(ctx, orderID)
	if err != nil || !ok {
		return err
	}

	res, err := s.Reserver.Reserve(ctx, o.ID)
	if errors.Is(err, orders.ErrTerminal) {
		return nil
	}
	if err != nil {
		return err
	}

	if !res.OK {
		applied, err := s.Store.MarkOrderFailed(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("mark failed %s: %w", o.ID, err)
		}
		if applied {
			s.Log.Info("order failed: stock unavailable", zap.String("order_id", o.ID), zap.Any("shortages", res.Shortages))
		}
		return nil
	}

	if res.AlreadyReserved {
		// redelivery: stok sudah dikurangi, charge di-enqueue ulang (charge & callback idempotent)
		s.Log.Info("order already reserved, re-scheduling charge", zap.String("order_id", o.ID))
	}
	return queue.Dispatch(ctx, s.Queue, TaskChargeOrder, o.ID, nil, s.ChargeDelay)
}

// ChargeOrder asks the gateway for a decision and hands it to the callback.
func (s *Service) ChargeOrder(ctx context.Context, orderID string) error {
	o, ok, err := s.load(ctx, orderID)
	if err != nil || !ok {
		return err
	}
	out, err := s.Gateway.Charge(ctx, o)
	if err != nil {
		return fmt.Errorf("charge %s: %w", o.ID, err)
	}
	return queue.Dispatch(ctx, s.Queue, TaskPaymentCallback, o.ID, CallbackPayload{
		Succeeded:   out.Succeeded,
		Provider:    out.Provider,
		ProviderRef: out.ProviderRef,
	}, 0)
}

// OnChargeResult settles the order. Metrics and the notification only follow
// a transition this call applied. A success that arrives before the stock
// was reserved returns an error wrapping orders.ErrNotReserved so the
// callback task retries after process_order has run.
func (s *Service) OnChargeResult(ctx context.Context, orderID string, out orders.ChargeOutcome) error {
	if _, ok, err := s.load(ctx, orderID); err != nil || !ok {
		return err
	}

	settled, applied, err := s.Store.SettlePayment(ctx, orderID, out)
	if errors.Is(err, orders.ErrNotReserved) {
		s.Log.Info("callback before reservation, will retry", zap.String("order_id", orderID))
		return fmt.Errorf("settle %s: %w", orderID, err)
	}
	if err != nil {
		return fmt.Errorf("settle %s: %w", orderID, err)
	}
	if !applied {
		s.Log.Info("callback ignored, order already settled", zap.String("order_id", orderID), zap.String("status", string(settled.Status)))
		return nil
	}

	log := s.Log.With(zap.String("order_id", settled.ID), zap.String("status", string(settled.Status)))
	if out.Succeeded {
		err = s.KPI.RecordSuccess(ctx, settled.ID, settled.CustomerID, settled.TotalCents)
	} else {
		err = s.KPI.RecordFailure(ctx, settled.ID, settled.CustomerID, settled.TotalCents)
	}
	if err != nil {
		// transisi sudah commit; retry tidak akan mengulang KPI
		log.Error("kpi update failed", zap.Error(err))
	}

	if err := s.Notifier.Publish(ctx, orders.TopicOrderProcessed, notify.OrderProcessed(settled, out.Succeeded, s.Producer)); err != nil {
		log.Warn("notification not sent", zap.Error(err))
	}
	log.Info("order settled", zap.Int("total_cents", settled.TotalCents))
	return nil
}

// FailExhausted is the process_order exhaustion hook. Only a reservation
// that never got its locks is failed here: nothing was decremented.
func (s *Service) FailExhausted(ctx context.Context, orderID string, cause error) {
	if !errors.Is(cause, inventory.ErrReservationFailed) {
		return
	}
	applied, err := s.Store.MarkOrderFailed(ctx, orderID)
	if err != nil {
		s.Log.Error("mark exhausted order failed", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if applied {
		s.Log.Warn("order failed after reservation retries", zap.String("order_id", orderID), zap.Error(cause))
	}
}

// load applies the terminal-state guard. ok=false means: nothing to do.
func (s *Service) load(ctx context.Context, orderID string) (orders.Order, bool, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		s.Log.Warn("order not found, skipping", zap.String("order_id", orderID))
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if err := orders.GuardOrder(o); err != nil {
		s.Log.Info("order already terminal, skipping", zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
		return o, false, nil
	}
	return o, true, nil
}
