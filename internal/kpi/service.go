// Package kpi keeps the running business metrics in Redis: daily revenue,
// order count, average order value and a per-customer revenue leaderboard.
package kpi

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/redis/go-redis/v9"
)

const (
	MetricRevenue       = "revenue_cents"
	MetricOrderCount    = "order_count"
	MetricAvgOrderValue = "avg_order_value_cents"
	MetricRefunded      = "refunded_cents"
)

// Counters is implemented by redisx.Counters and memory.Counters.
type Counters interface {
	Apply(ctx context.Context, adj redisx.Adjustment) (bool, error)
	Get(ctx context.Context, key string) (int64, error)
	ZRevRangeWithScores(ctx context.Context, key string, n int64) ([]redis.Z, error)
}

// marker kinds, one adjustment per entity per kind
const (
	kindPaid   = "paid"
	kindFailed = "failed"
	kindRefund = "refund"
)

type Service struct {
	c   Counters
	now func() time.Time
}

func New(c Counters) *Service {
	return &Service{c: c, now: time.Now}
}

// WithClock is for tests that need a fixed day key.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) key(metric string) string { return redisx.KPI(s.now(), metric) }

// RecordSuccess: +revenue, +1 order, avg = floor(revenue/count), +leaderboard.
// Each order is counted at most once, retries included.
func (s *Service) RecordSuccess(ctx context.Context, orderID, customerID string, amountCents int) error {
	return s.apply(ctx, redisx.Adjustment{
		Marker:    redisx.KPIApplied(kindPaid, orderID),
		Revenue:   s.key(MetricRevenue),
		RevenueBy: int64(amountCents),
		Count:     s.key(MetricOrderCount),
		CountBy:   1,
		Avg:       s.key(MetricAvgOrderValue),
		Board:     redisx.KeyLeaderboard,
		Member:    customerID,
		BoardBy:   float64(amountCents),
	})
}

// RecordFailure takes the amount back out of revenue and the leaderboard.
func (s *Service) RecordFailure(ctx context.Context, orderID, customerID string, amountCents int) error {
	return s.apply(ctx, redisx.Adjustment{
		Marker:    redisx.KPIApplied(kindFailed, orderID),
		Revenue:   s.key(MetricRevenue),
		RevenueBy: -int64(amountCents),
		Board:     redisx.KeyLeaderboard,
		Member:    customerID,
		BoardBy:   -float64(amountCents),
	})
}

// RecordRefund is a failure adjustment plus the refunded_cents counter.
func (s *Service) RecordRefund(ctx context.Context, refundID, customerID string, amountCents int) error {
	return s.apply(ctx, redisx.Adjustment{
		Marker:    redisx.KPIApplied(kindRefund, refundID),
		Revenue:   s.key(MetricRevenue),
		RevenueBy: -int64(amountCents),
		Refunded:  s.key(MetricRefunded),
		RefundBy:  int64(amountCents),
		Board:     redisx.KeyLeaderboard,
		Member:    customerID,
		BoardBy:   -float64(amountCents),
	})
}

// apply ignores a marker that is already set: that adjustment landed on an
// earlier attempt whose reply or commit was lost.
func (s *Service) apply(ctx context.Context, adj redisx.Adjustment) error {
	if _, err := s.c.Apply(ctx, adj); err != nil {
		return fmt.Errorf("kpi update %s: %w", adj.Marker, err)
	}
	return nil
}

type Snapshot struct {
	Day                string `json:"day"`
	RevenueCents       int64  `json:"revenue_cents"`
	OrderCount         int64  `json:"order_count"`
	AvgOrderValueCents int64  `json:"avg_order_value_cents"`
	RefundedCents      int64  `json:"refunded_cents"`
}

func (s *Service) Today(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Day: s.now().Format("2006-01-02")}
	for _, m := range []struct {
		metric string
		dst    *int64
	}{
		{MetricRevenue, &snap.RevenueCents},
		{MetricOrderCount, &snap.OrderCount},
		{MetricAvgOrderValue, &snap.AvgOrderValueCents},
		{MetricRefunded, &snap.RefundedCents},
	} {
		v, err := s.c.Get(ctx, s.key(m.metric))
		if err != nil {
			return Snapshot{}, fmt.Errorf("kpi %s: %w", m.metric, err)
		}
		*m.dst = v
	}
	return snap, nil
}

type Entry struct {
	CustomerID   string `json:"customer_id"`
	RevenueCents int64  `json:"revenue_cents"`
}

func (s *Service) Leaderboard(ctx context.Context, n int) ([]Entry, error) {
	zs, err := s.c.ZRevRangeWithScores(ctx, redisx.KeyLeaderboard, int64(n))
	if err != nil {
		return nil, fmt.Errorf("kpi leaderboard: %w", err)
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, Entry{CustomerID: member, RevenueCents: int64(z.Score)})
	}
	return out, nil
}
