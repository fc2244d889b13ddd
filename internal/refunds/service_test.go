package refunds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/kpi"
	"github.com/ariefcatur/go-order-fulfillment/internal/memory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

type RefundSuite struct {
	suite.Suite
	store    *memory.Store
	q        *memory.Queue
	counters *memory.Counters
	kpi      *kpi.Service
	notifier *memory.Notifier
	svc      *Service
	runner   *queue.Runner
	order    orders.Order
}

func TestRefundSuite(t *testing.T) {
	suite.Run(t, new(RefundSuite))
}

func (s *RefundSuite) SetupTest() {
	log := zaptest.NewLogger(s.T())
	s.store = memory.NewStore()
	s.q = memory.NewQueue()
	s.counters = memory.NewCounters()
	s.kpi = kpi.New(s.counters)
	s.notifier = &memory.Notifier{}
	s.svc = &Service{Store: s.store, Queue: s.q, KPI: s.kpi, Notifier: s.notifier, Producer: "orders-cli", Log: log}
	s.runner = queue.NewRunner(s.q, memory.NewLocker(), log, queue.Options{Backoff: time.Millisecond})
	s.svc.Register(s.runner)

	c := s.store.PutCustomer("C-1", "ana@example.com", "Ana")
	p := s.store.PutProduct("SKU-A", "A", 500, 10)
	s.order = s.store.PutOrder("EXT-1", c.ID, memory.ItemSpec{ProductID: p.ID, Qty: 2, UnitPrice: 500})
	s.Require().Equal(1000, s.order.TotalCents)
}

func (s *RefundSuite) drain() {
	s.q.Drain(context.Background(), s.runner.Process, 100)
}

func (s *RefundSuite) refund(id string) orders.Refund {
	rf, err := s.store.GetRefund(context.Background(), id)
	s.Require().NoError(err)
	return rf
}

func (s *RefundSuite) TestRequestAndProcess() {
	ctx := context.Background()
	rf, created, err := s.svc.Request(ctx, s.order.ID, 400, "", "damaged")
	s.Require().NoError(err)
	s.True(created)
	s.Equal(orders.RefundRequested, rf.Status)
	s.Len(s.q.Pending(), 1)

	s.drain()

	got := s.refund(rf.ID)
	s.Equal(orders.RefundProcessed, got.Status)
	s.NotNil(got.ProcessedAt)

	snap, err := s.kpi.Today(ctx)
	s.Require().NoError(err)
	s.EqualValues(-400, snap.RevenueCents)
	s.EqualValues(400, snap.RefundedCents)

	sent := s.notifier.Sent()
	s.Require().Len(sent, 1)
	s.Equal(orders.TopicRefundProcessed, sent[0].Topic)
	s.Equal(s.order.ID, sent[0].Envelope.CorrelationID)
}

func (s *RefundSuite) TestRequestByExternalID() {
	rf, _, err := s.svc.Request(context.Background(), "EXT-1", 1000, "", "")
	s.Require().NoError(err)
	s.Equal(s.order.ID, rf.OrderID)
}

func (s *RefundSuite) TestRequestRejectsOutOfRangeAmounts() {
	for _, amount := range []int{0, -5, 1001} {
		_, _, err := s.svc.Request(context.Background(), s.order.ID, amount, "", "")
		s.Require().Error(err, "amount %d", amount)
		s.True(orders.IsValidation(err))
	}
	s.Empty(s.q.Pending())
}

func (s *RefundSuite) TestRequestUnknownOrder() {
	_, _, err := s.svc.Request(context.Background(), "nope", 100, "", "")
	s.ErrorIs(err, orders.ErrNotFound)
}

func (s *RefundSuite) TestIdempotencyKeyReturnsSameRefund() {
	ctx := context.Background()
	first, created, err := s.svc.Request(ctx, s.order.ID, 300, "key-1", "")
	s.Require().NoError(err)
	s.True(created)

	again, created, err := s.svc.Request(ctx, s.order.ID, 300, "key-1", "")
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, again.ID)
	s.Len(s.q.Pending(), 1, "second request schedules nothing")

	s.drain()
	snap, err := s.kpi.Today(ctx)
	s.Require().NoError(err)
	s.EqualValues(300, snap.RefundedCents)
}

func (s *RefundSuite) TestRefundsAreCheckedAgainstCurrentTotalOnly() {
	ctx := context.Background()
	a, _, err := s.svc.Request(ctx, s.order.ID, 600, "", "")
	s.Require().NoError(err)
	b, _, err := s.svc.Request(ctx, s.order.ID, 500, "", "")
	s.Require().NoError(err)

	s.drain()

	s.Equal(orders.RefundProcessed, s.refund(a.ID).Status)
	s.Equal(orders.RefundProcessed, s.refund(b.ID).Status)
	snap, err := s.kpi.Today(ctx)
	s.Require().NoError(err)
	s.EqualValues(1100, snap.RefundedCents)
}

func (s *RefundSuite) TestProcessFailsWhenOrderMissing() {
	ctx := context.Background()
	rf, _, err := s.store.CreateRefund(ctx, orders.Refund{OrderID: "gone", AmountCents: 100})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.ProcessRefund(ctx, rf.ID))
	s.Equal(orders.RefundFailed, s.refund(rf.ID).Status)
	s.Empty(s.notifier.Sent())
}

func (s *RefundSuite) TestProcessFailsWhenAmountExceedsTotal() {
	ctx := context.Background()
	rf, _, err := s.store.CreateRefund(ctx, orders.Refund{OrderID: s.order.ID, AmountCents: 5000})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.ProcessRefund(ctx, rf.ID))
	s.Equal(orders.RefundFailed, s.refund(rf.ID).Status)

	snap, err := s.kpi.Today(ctx)
	s.Require().NoError(err)
	s.Zero(snap.RefundedCents)
}

func (s *RefundSuite) TestProcessTwiceAppliesOnce() {
	ctx := context.Background()
	rf, _, err := s.svc.Request(ctx, s.order.ID, 250, "", "")
	s.Require().NoError(err)

	s.Require().NoError(s.svc.ProcessRefund(ctx, rf.ID))
	s.Require().NoError(s.svc.ProcessRefund(ctx, rf.ID))
	s.Require().NoError(s.svc.ProcessRefund(ctx, "missing"))

	snap, err := s.kpi.Today(ctx)
	s.Require().NoError(err)
	s.EqualValues(250, snap.RefundedCents)
	s.Len(s.notifier.Sent(), 1)
}

func (s *RefundSuite) TestMetricErrorKeepsRefundRequested() {
	ctx := context.Background()
	rf, _, err := s.svc.Request(ctx, s.order.ID, 250, "", "")
	s.Require().NoError(err)
	s.counters.FailOn = errors.New("redis down")

	err = s.svc.ProcessRefund(ctx, rf.ID)
	s.Require().Error(err)
	s.Equal(orders.RefundRequested, s.refund(rf.ID).Status)

	s.counters.FailOn = nil
	s.Require().NoError(s.svc.ProcessRefund(ctx, rf.ID))
	s.Equal(orders.RefundProcessed, s.refund(rf.ID).Status)
}

func TestCheckAmount(t *testing.T) {
	require.NoError(t, checkAmount(1, 1))
	require.NoError(t, checkAmount(1000, 1000))
	err := checkAmount(0, 1000)
	require.Error(t, err)
	assert.Equal(t, "amount_cents: must be between 1 and 1000, got 0", err.Error())
}

func (s *RefundSuite) TestRetryAfterLostMetricReplyCountsOnce() {
	ctx := context.Background()
	rf, _, err := s.svc.Request(ctx, s.order.ID, 250, "", "")
	s.Require().NoError(err)
	s.counters.LoseReply = errors.New("redis blip")

	s.Require().Error(s.svc.ProcessRefund(ctx, rf.ID))
	s.Equal(orders.RefundRequested, s.refund(rf.ID).Status)

	s.Require().NoError(s.svc.ProcessRefund(ctx, rf.ID))
	s.Equal(orders.RefundProcessed, s.refund(rf.ID).Status)

	snap, err := s.kpi.Today(ctx)
	s.Require().NoError(err)
	s.EqualValues(-250, snap.RevenueCents)
	s.EqualValues(250, snap.RefundedCents)
}
