package notify

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type LogStore interface {
	InsertNotificationLog(ctx context.Context, n orders.NotificationLog) error
}

type Dedup interface {
	First(ctx context.Context, scope, id string) (bool, error)
	Forget(ctx context.Context, scope, id string) error
}

// Recorder is the kafka handler behind `orders notifier`.
type Recorder struct {
	Store LogStore
	Dedup Dedup // optional
	Scope string
	Log   *zap.Logger
}

// Handle persists one event. Unknown event types are committed and skipped.
func (r *Recorder) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// pesan rusak tidak akan pernah berhasil, commit saja
		r.Log.Warn("skip undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	n, ok, err := toLog(env, "kafka")
	if err != nil {
		r.Log.Warn("skip bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	if r.Dedup != nil {
		first, err := r.Dedup.First(ctx, r.Scope, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", env.EventID, err)
		}
		if !first {
			return nil
		}
	}
	if err := r.Store.InsertNotificationLog(ctx, n); err != nil {
		if r.Dedup != nil {
			_ = r.Dedup.Forget(context.WithoutCancel(ctx), r.Scope, env.EventID)
		}
		return fmt.Errorf("insert notification log: %w", err)
	}
	r.Log.Info("notification recorded", zap.String("event_type", env.EventType), zap.String("order_id", n.OrderID))
	return nil
}

func toLog(env orders.Envelope, channel string) (orders.NotificationLog, bool, error) {
	switch env.EventType {
	case orders.EventOrderProcessed:
		p, err := kafkax.UnwrapPayload[orders.OrderProcessedPayload](env.Payload)
		if err != nil {
			return orders.NotificationLog{}, false, err
		}
		return orders.NotificationLog{
			OrderID:    p.OrderID,
			CustomerID: p.CustomerID,
			Channel:    channel,
			Status:     string(p.Status),
			TotalCents: p.TotalCents,
			Payload:    env.Payload,
			Success:    p.Succeeded,
			SentAt:     env.OccurredAt,
		}, true, nil
	case orders.EventRefundProcessed:
		p, err := kafkax.UnwrapPayload[orders.RefundProcessedPayload](env.Payload)
		if err != nil {
			return orders.NotificationLog{}, false, err
		}
		return orders.NotificationLog{
			OrderID:    p.OrderID,
			Channel:    channel,
			Status:     string(p.Status),
			TotalCents: p.AmountCents,
			Payload:    env.Payload,
			Success:    p.Status == orders.RefundProcessed,
			SentAt:     env.OccurredAt,
		}, true, nil
	}
	return orders.NotificationLog{}, false, nil
}
