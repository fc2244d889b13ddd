package fulfillment

import (
	"context"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
)

// Register binds the three order tasks to r.
func (s *Service) Register(r *queue.Runner) {
	r.Handle(TaskProcessOrder, func(ctx context.Context, t queue.Task) error {
		return s.ProcessOrder(ctx, t.EntityID)
	})
	r.OnExhausted(TaskProcessOrder, func(ctx context.Context, t queue.Task, err error) {
		s.FailExhausted(ctx, t.EntityID, err)
	})

	r.Handle(TaskChargeOrder, func(ctx context.Context, t queue.Task) error {
		return s.ChargeOrder(ctx, t.EntityID)
	})

	r.Handle(TaskPaymentCallback, func(ctx context.Context, t queue.Task) error {
		var p CallbackPayload
		if err := t.Decode(&p); err != nil {
			return &queue.Permanent{Err: err}
		}
		if p.Provider == "" {
			p.Provider = "fake"
		}
		return s.OnChargeResult(ctx, t.EntityID, orders.ChargeOutcome{
			Succeeded:   p.Succeeded,
			Provider:    p.Provider,
			ProviderRef: p.ProviderRef,
		})
	})
}

// EnqueueCallback is used by the HTTP callback endpoint.
func EnqueueCallback(ctx context.Context, q queue.Enqueuer, orderID string, p CallbackPayload) error {
	return queue.Dispatch(ctx, q, TaskPaymentCallback, orderID, p, 0)
}
