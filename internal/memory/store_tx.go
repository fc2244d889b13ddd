package memory

import (
	"context"
	"sort"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
)

func (s *Store) ReserveStock(_ context.Context, orderID string, need map[string]int) (orders.ReserveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["ReserveStock"]; err != nil {
		return orders.ReserveResult{}, err
	}

	o, ok := s.orders[orderID]
	if !ok {
		return orders.ReserveResult{}, orders.ErrNotFound
	}
	if o.Status.Terminal() {
		return orders.ReserveResult{}, &orders.TerminalError{Entity: "order", ID: orderID, Status: string(o.Status)}
	}
	for _, r := range s.reserved[orderID] {
		if r.Status == orders.ReservationReserved {
			return orders.ReserveResult{OK: true, AlreadyReserved: true}, nil
		}
	}

	var short []orders.Shortage
	for _, id := range sortedKeys(need) {
		p, ok := s.products[id]
		if !ok || p.StockQty < need[id] {
			short = append(short, orders.Shortage{ProductID: id, Required: need[id], Available: p.StockQty})
		}
	}
	if len(short) > 0 {
		return orders.ReserveResult{Shortages: short}, nil
	}

	if s.reserved[orderID] == nil {
		s.reserved[orderID] = map[string]*orders.Reservation{}
	}
	for id, qty := range need {
		p := s.products[id]
		p.StockQty -= qty
		p.UpdatedAt = now()
		s.products[id] = p
		s.reserved[orderID][id] = &orders.Reservation{
			ID: uuid.NewString(), OrderID: orderID, ProductID: id, Qty: qty,
			Status: orders.ReservationReserved, CreatedAt: now(),
		}
	}
	return orders.ReserveResult{OK: true}, nil
}

func (s *Store) Reservations(_ context.Context, orderID string) ([]orders.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []orders.Reservation{}
	for _, id := range sortedKeys(s.reserved[orderID]) {
		out = append(out, *s.reserved[orderID][id])
	}
	return out, nil
}

func (s *Store) MarkOrderFailed(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != orders.StatusPending {
		return false, nil
	}
	o.Status, o.UpdatedAt = orders.StatusFailed, now()
	s.orders[orderID] = o
	return true, nil
}

func (s *Store) SettlePayment(_ context.Context, orderID string, out orders.ChargeOutcome) (orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["SettlePayment"]; err != nil {
		return orders.Order{}, false, err
	}
	o, ok := s.orders[orderID]
	if !ok {
		return orders.Order{}, false, orders.ErrNotFound
	}
	if o.Status.Terminal() {
		return o, false, nil
	}

	if out.Succeeded && !hasReserved(s.reserved[orderID]) {
		return o, false, orders.ErrNotReserved
	}

	p := s.payments[orderID]
	if p.ID == "" {
		p = orders.Payment{ID: uuid.NewString(), OrderID: orderID, CreatedAt: now()}
	}
	p.Provider, p.ProviderRef, p.AmountCents, p.UpdatedAt = out.Provider, out.ProviderRef, o.TotalCents, now()

	if out.Succeeded {
		t := now()
		p.Status, p.PaidAt = orders.PaymentSucceeded, &t
		o.Status = orders.StatusPaid
	} else {
		for pid, r := range s.reserved[orderID] {
			if r.Status != orders.ReservationReserved {
				continue
			}
			prod := s.products[pid]
			prod.StockQty += r.Qty
			prod.UpdatedAt = now()
			s.products[pid] = prod
			r.Status = orders.ReservationReleased
		}
		p.Status, p.PaidAt = orders.PaymentFailed, nil
		o.Status = orders.StatusFailed
	}
	o.UpdatedAt = now()
	s.payments[orderID] = p
	s.orders[orderID] = o
	return o, true, nil
}

func hasReserved(rs map[string]*orders.Reservation) bool {
	for _, r := range rs {
		if r.Status == orders.ReservationReserved {
			return true
		}
	}
	return false
}

func (s *Store) GetPayment(_ context.Context, orderID string) (orders.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[orderID]
	if !ok {
		return orders.Payment{}, orders.ErrNotFound
	}
	return p, nil
}

// ---- refunds ----

func (s *Store) CreateRefund(_ context.Context, rf orders.Refund) (orders.Refund, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rf.IdempotencyKey != "" {
		if id, ok := s.refundKey[rf.IdempotencyKey]; ok {
			return s.refunds[id], false, nil
		}
	}
	rf.ID = uuid.NewString()
	rf.Status = orders.RefundRequested
	rf.ProcessedAt = nil
	rf.CreatedAt, rf.UpdatedAt = now(), now()
	s.refunds[rf.ID] = rf
	if rf.IdempotencyKey != "" {
		s.refundKey[rf.IdempotencyKey] = rf.ID
	}
	return rf, true, nil
}

func (s *Store) GetRefund(_ context.Context, refundID string) (orders.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rf, ok := s.refunds[refundID]
	if !ok {
		return orders.Refund{}, orders.ErrNotFound
	}
	return rf, nil
}

func (s *Store) MarkRefundFailed(_ context.Context, refundID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rf, ok := s.refunds[refundID]
	if !ok || rf.Status != orders.RefundRequested {
		return false, nil
	}
	rf.Status, rf.UpdatedAt = orders.RefundFailed, now()
	s.refunds[refundID] = rf
	return true, nil
}

// ProcessRefund serializes on refundMu the way the postgres version holds the
// refund row lock; apply runs without the store mutex held.
func (s *Store) ProcessRefund(ctx context.Context, refundID string, apply func(ctx context.Context, rf orders.Refund) error) (orders.Refund, bool, error) {
	s.refundMu.Lock()
	defer s.refundMu.Unlock()

	rf, err := s.GetRefund(ctx, refundID)
	if err != nil {
		return orders.Refund{}, false, err
	}
	if !orders.CanTransitionRefund(rf.Status, orders.RefundProcessed) {
		return rf, false, nil
	}
	if err := apply(ctx, rf); err != nil {
		return orders.Refund{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := now()
	rf.Status, rf.ProcessedAt, rf.UpdatedAt = orders.RefundProcessed, &t, t
	s.refunds[refundID] = rf
	return rf, true, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
