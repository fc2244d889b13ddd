package fulfillment

import (
	"context"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
)

type Gateway interface {
	Charge(ctx context.Context, o orders.Order) (orders.ChargeOutcome, error)
}

// FakeGateway approves even totals and declines odd ones.
type FakeGateway struct{}

func (FakeGateway) Charge(_ context.Context, o orders.Order) (orders.ChargeOutcome, error) {
	return orders.ChargeOutcome{
		Succeeded:   o.TotalCents%2 == 0,
		Provider:    "fake",
		ProviderRef: "FAKE-" + uuid.NewString(),
	}, nil
}
