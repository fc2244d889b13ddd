package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrReservationFailed covers transient failures (lock timeout). The caller
// retries; a shortage is not an error, see orders.ReserveResult.
var ErrReservationFailed = errors.New("stock reservation failed")

type Store interface {
	OrderItems(ctx context.Context, orderID string) ([]orders.OrderItem, error)
	ReserveStock(ctx context.Context, orderID string, need map[string]int) (orders.ReserveResult, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(context.Context) error, error)
}

type Service struct {
	Store    Store
	Locks    Locker
	LockTTL  time.Duration
	LockWait time.Duration
	Log      *zap.Logger
}

func NewService(store Store, locks Locker, log *zap.Logger) *Service {
	return &Service{Store: store, Locks: locks, LockTTL: 5 * time.Second, LockWait: 2 * time.Second, Log: log}
}

// Reserve: lock semua product (urut id) -> cek+kurangi dalam 1 tx -> lepas lock.
// An order without items cannot be reserved and comes back as not OK.
func (s *Service) Reserve(ctx context.Context, orderID string) (orders.ReserveResult, error) {
	ctx, span := otel.Tracer("orders/inventory").Start(ctx, "inventory.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	items, err := s.Store.OrderItems(ctx, orderID)
	if err != nil {
		return orders.ReserveResult{}, fmt.Errorf("load items %s: %w", orderID, err)
	}
	if len(items) == 0 {
		s.Log.Info("order has no items, nothing to reserve", zap.String("order_id", orderID))
		return orders.ReserveResult{}, nil
	}

	need := NeedByProduct(items)
	ids := sortedIDs(need)

	releases := make([]func(context.Context) error, 0, len(ids))
	defer func() {
		bg := context.WithoutCancel(ctx)
		for i := len(releases) - 1; i >= 0; i-- {
			if err := releases[i](bg); err != nil {
				s.Log.Warn("release stock lock", zap.Error(err))
			}
		}
	}()
	for _, id := range ids {
		release, err := s.Locks.Acquire(ctx, redisx.StockLock(id), s.LockTTL, s.LockWait)
		if err != nil {
			return orders.ReserveResult{}, fmt.Errorf("%w: %w", ErrReservationFailed, err)
		}
		releases = append(releases, release)
	}

	res, err := s.Store.ReserveStock(ctx, orderID, need)
	if err != nil {
		return orders.ReserveResult{}, fmt.Errorf("reserve %s: %w", orderID, err)
	}
	span.SetAttributes(attribute.Bool("reservation.ok", res.OK), attribute.Bool("reservation.already", res.AlreadyReserved))
	if !res.OK {
		s.Log.Info("insufficient stock", zap.String("order_id", orderID), zap.Any("shortages", res.Shortages))
	}
	return res, nil
}

// NeedByProduct sums item quantities per product.
func NeedByProduct(items []orders.OrderItem) map[string]int {
	need := make(map[string]int, len(items))
	for _, it := range items {
		need[it.ProductID] += it.Qty
	}
	return need
}
