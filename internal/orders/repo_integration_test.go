//go:build integration

package orders_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/testinfra"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
)

type RepoSuite struct {
	suite.Suite
	pool *pgxpool.Pool
	repo *orders.Repo
}

func TestRepoSuite(t *testing.T) {
	suite.Run(t, new(RepoSuite))
}

func (s *RepoSuite) SetupSuite() {
	s.pool = testinfra.Postgres(s.T())
	s.repo = &orders.Repo{DB: s.pool, DefaultStock: 10}
}

func (s *RepoSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(),
		`TRUNCATE notification_logs, refunds, payments, reservations, order_items, orders, products, customers`)
	s.Require().NoError(err)
}

func line(ext, sku string, price, qty int) orders.ImportLine {
	return orders.ImportLine{
		ExternalOrderID:    ext,
		PlacedAt:           time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC),
		Currency:           "USD",
		CustomerExternalID: "C-1",
		CustomerEmail:      "ana@example.com",
		CustomerName:       "Ana",
		SKU:                sku,
		ProductName:        "Product " + sku,
		UnitPriceCents:     price,
		Qty:                qty,
	}
}

// importOrder imports lines as a single run and recomputes the total.
func (s *RepoSuite) importOrder(lines ...orders.ImportLine) orders.Order {
	ctx := context.Background()
	done := map[string]bool{}
	var id string
	for _, ln := range lines {
		var err error
		id, _, err = s.repo.ImportLine(ctx, ln, func(orderID string) bool {
			if done[orderID] {
				return false
			}
			done[orderID] = true
			return true
		})
		s.Require().NoError(err)
	}
	s.Require().NoError(s.repo.RecomputeTotals(ctx, []string{id}))
	o, err := s.repo.GetOrder(ctx, id)
	s.Require().NoError(err)
	return o
}

func (s *RepoSuite) stock(sku string) int {
	var n int
	s.Require().NoError(s.pool.QueryRow(context.Background(), `SELECT stock_qty FROM products WHERE sku=$1`, sku).Scan(&n))
	return n
}

func (s *RepoSuite) productID(sku string) string {
	var id string
	s.Require().NoError(s.pool.QueryRow(context.Background(), `SELECT id FROM products WHERE sku=$1`, sku).Scan(&id))
	return id
}

func (s *RepoSuite) TestImportIsIdempotent() {
	ctx := context.Background()
	first := s.importOrder(line("ORD-1", "SKU-A", 500, 2), line("ORD-1", "SKU-B", 250, 1))
	s.Equal(1250, first.TotalCents)
	s.Equal(orders.StatusPending, first.Status)

	again := s.importOrder(line("ORD-1", "SKU-A", 500, 2), line("ORD-1", "SKU-B", 250, 1))
	s.Equal(first.ID, again.ID)
	s.Equal(1250, again.TotalCents)

	items, err := s.repo.OrderItems(ctx, again.ID)
	s.Require().NoError(err)
	s.Len(items, 2)

	byExt, err := s.repo.FindOrderByExternalID(ctx, "ORD-1")
	s.Require().NoError(err)
	s.Equal(first.ID, byExt.ID)
}

func (s *RepoSuite) TestReserveAndRelease() {
	ctx := context.Background()
	o := s.importOrder(line("ORD-1", "SKU-A", 333, 3))
	a := s.productID("SKU-A")

	res, err := s.repo.ReserveStock(ctx, o.ID, map[string]int{a: 3})
	s.Require().NoError(err)
	s.True(res.OK)
	s.Equal(7, s.stock("SKU-A"))

	res, err = s.repo.ReserveStock(ctx, o.ID, map[string]int{a: 3})
	s.Require().NoError(err)
	s.True(res.AlreadyReserved)
	s.Equal(7, s.stock("SKU-A"))

	settled, applied, err := s.repo.SettlePayment(ctx, o.ID, orders.ChargeOutcome{Succeeded: false, Provider: "fake", ProviderRef: "R"})
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(orders.StatusFailed, settled.Status)
	s.Equal(10, s.stock("SKU-A"))

	p, err := s.repo.GetPayment(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(orders.PaymentFailed, p.Status)
	s.Nil(p.PaidAt)

	rs, err := s.repo.Reservations(ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Len(rs, 1)
	s.Equal(orders.ReservationReleased, rs[0].Status)
}

func (s *RepoSuite) TestSuccessNeedsReservation() {
	ctx := context.Background()
	o := s.importOrder(line("ORD-1", "SKU-A", 500, 2))

	_, applied, err := s.repo.SettlePayment(ctx, o.ID, orders.ChargeOutcome{Succeeded: true, Provider: "fake"})
	s.Require().ErrorIs(err, orders.ErrNotReserved)
	s.False(applied)
	status, err := s.repo.GetOrderStatus(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(orders.StatusPending, status)
	_, err = s.repo.GetPayment(ctx, o.ID)
	s.ErrorIs(err, orders.ErrNotFound)

	_, err = s.repo.ReserveStock(ctx, o.ID, map[string]int{s.productID("SKU-A"): 2})
	s.Require().NoError(err)
	settled, applied, err := s.repo.SettlePayment(ctx, o.ID, orders.ChargeOutcome{Succeeded: true, Provider: "fake"})
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(orders.StatusPaid, settled.Status)
	s.Equal(8, s.stock("SKU-A"))
}

func (s *RepoSuite) TestShortageRollsBack() {
	ctx := context.Background()
	o := s.importOrder(line("ORD-1", "SKU-A", 100, 3), line("ORD-1", "SKU-B", 100, 2))
	a, b := s.productID("SKU-A"), s.productID("SKU-B")
	_, err := s.pool.Exec(ctx, `UPDATE products SET stock_qty=1 WHERE id=$1`, b)
	s.Require().NoError(err)

	res, err := s.repo.ReserveStock(ctx, o.ID, map[string]int{a: 3, b: 2})
	s.Require().NoError(err)
	s.False(res.OK)
	s.Require().Len(res.Shortages, 1)
	s.Equal(b, res.Shortages[0].ProductID)
	s.Equal(10, s.stock("SKU-A"))
	s.Equal(1, s.stock("SKU-B"))
}

func (s *RepoSuite) TestConcurrentSettleAppliesOnce() {
	ctx := context.Background()
	o := s.importOrder(line("ORD-1", "SKU-A", 500, 2))
	_, err := s.repo.ReserveStock(ctx, o.ID, map[string]int{s.productID("SKU-A"): 2})
	s.Require().NoError(err)

	var applied int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := s.repo.SettlePayment(ctx, o.ID, orders.ChargeOutcome{Succeeded: i%2 == 0, Provider: "fake"})
			s.NoError(err)
			if ok {
				atomic.AddInt32(&applied, 1)
			}
		}(i)
	}
	wg.Wait()
	s.EqualValues(1, applied)

	status, err := s.repo.GetOrderStatus(ctx, o.ID)
	s.Require().NoError(err)
	if status == orders.StatusPaid {
		s.Equal(8, s.stock("SKU-A"))
	} else {
		s.Equal(10, s.stock("SKU-A"))
	}
}

func (s *RepoSuite) TestRefundLifecycle() {
	ctx := context.Background()
	o := s.importOrder(line("ORD-1", "SKU-A", 500, 2))

	rf, created, err := s.repo.CreateRefund(ctx, orders.Refund{OrderID: o.ID, AmountCents: 400, IdempotencyKey: "k-1", Reason: "late"})
	s.Require().NoError(err)
	s.True(created)
	s.Equal(orders.RefundRequested, rf.Status)

	dup, created, err := s.repo.CreateRefund(ctx, orders.Refund{OrderID: o.ID, AmountCents: 400, IdempotencyKey: "k-1"})
	s.Require().NoError(err)
	s.False(created)
	s.Equal(rf.ID, dup.ID)

	calls := 0
	apply := func(context.Context, orders.Refund) error { calls++; return nil }
	done, ok, err := s.repo.ProcessRefund(ctx, rf.ID, apply)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(orders.RefundProcessed, done.Status)
	s.NotNil(done.ProcessedAt)

	_, ok, err = s.repo.ProcessRefund(ctx, rf.ID, apply)
	s.Require().NoError(err)
	s.False(ok)
	s.Equal(1, calls)

	failed, err := s.repo.MarkRefundFailed(ctx, rf.ID)
	s.Require().NoError(err)
	s.False(failed)
}

func (s *RepoSuite) TestNotificationLog() {
	o := s.importOrder(line("ORD-1", "SKU-A", 500, 2))
	err := s.repo.InsertNotificationLog(context.Background(), orders.NotificationLog{
		OrderID: o.ID, CustomerID: o.CustomerID, Channel: "kafka", Status: "PAID",
		TotalCents: 1000, Payload: []byte(`{"order_id":"x"}`), Success: true,
	})
	s.Require().NoError(err)
}

func (s *RepoSuite) TestMalformedIDIsNotFound() {
	_, err := s.repo.GetOrder(context.Background(), "not-a-uuid")
	s.ErrorIs(err, orders.ErrNotFound)
	_, err = s.repo.GetRefund(context.Background(), "not-a-uuid")
	s.ErrorIs(err, orders.ErrNotFound)
}
