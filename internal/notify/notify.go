// Package notify publishes processed-order and processed-refund events and
// persists them as notification logs on the consuming side. Publishing is
// fire-and-forget: callers log a failed publish and move on.
package notify

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Notifier interface {
	Publish(ctx context.Context, topic string, ev orders.Envelope) error
}

func OrderProcessed(o orders.Order, succeeded bool, producer string) orders.Envelope {
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderProcessed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderProcessedPayload{
			OrderID:    o.ID,
			CustomerID: o.CustomerID,
			Status:     o.Status,
			TotalCents: o.TotalCents,
			Succeeded:  succeeded,
		}),
	}
}

func RefundProcessed(rf orders.Refund, producer string) orders.Envelope {
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventRefundProcessed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: rf.OrderID,
		Payload: kafkax.MustMarshal(orders.RefundProcessedPayload{
			RefundID:    rf.ID,
			OrderID:     rf.OrderID,
			Status:      rf.Status,
			AmountCents: rf.AmountCents,
		}),
	}
}

// KafkaNotifier sends envelopes keyed by order id.
type KafkaNotifier struct {
	P *kafkax.Producer
}

func (k *KafkaNotifier) Publish(_ context.Context, topic string, ev orders.Envelope) error {
	return k.P.Publish(topic, orders.PartitionKey(ev.CorrelationID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(ev.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// LogNotifier is used when no broker is configured: it logs the event and,
// with a Store, writes the notification log directly.
type LogNotifier struct {
	Log   *zap.Logger
	Store LogStore
}

func (l *LogNotifier) Publish(ctx context.Context, topic string, ev orders.Envelope) error {
	l.Log.Info("order processed notification",
		zap.String("topic", topic),
		zap.String("event_type", ev.EventType),
		zap.String("order_id", ev.CorrelationID),
		zap.ByteString("payload", ev.Payload))
	if l.Store == nil {
		return nil
	}
	n, ok, err := toLog(ev, "log")
	if err != nil || !ok {
		return err
	}
	return l.Store.InsertNotificationLog(ctx, n)
}
