// Package memory holds in-process implementations of every collaborator the
// fulfillment flow depends on. They mirror the postgres and redis semantics
// closely enough for the package tests and for a local dry run.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
)

type Store struct {
	DefaultStock int

	mu        sync.Mutex
	refundMu  sync.Mutex // plays the refund row lock
	customers map[string]orders.Customer
	custByExt map[string]string
	products  map[string]orders.Product
	prodBySKU map[string]string
	orders    map[string]orders.Order
	orderByEx map[string]string
	items     map[string][]orders.OrderItem
	reserved  map[string]map[string]*orders.Reservation
	payments  map[string]orders.Payment
	refunds   map[string]orders.Refund
	refundKey map[string]string
	logs      []orders.NotificationLog
	fail      map[string]error
}

func NewStore() *Store {
	return &Store{
		DefaultStock: 10,
		customers:    map[string]orders.Customer{},
		custByExt:    map[string]string{},
		products:     map[string]orders.Product{},
		prodBySKU:    map[string]string{},
		orders:       map[string]orders.Order{},
		orderByEx:    map[string]string{},
		items:        map[string][]orders.OrderItem{},
		reserved:     map[string]map[string]*orders.Reservation{},
		payments:     map[string]orders.Payment{},
		refunds:      map[string]orders.Refund{},
		refundKey:    map[string]string{},
		fail:         map[string]error{},
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, method)
		return
	}
	s.fail[method] = err
}

func now() time.Time { return time.Now().UTC() }

// ---- seeding helpers ----

func (s *Store) PutCustomer(externalID, email, name string) orders.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCustomer(externalID, email, name)
}

func (s *Store) PutProduct(sku, name string, priceCents, stock int) orders.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.prodBySKU[sku]; ok {
		p := s.products[id]
		p.Name, p.PriceCents, p.StockQty, p.UpdatedAt = name, priceCents, stock, now()
		s.products[id] = p
		return p
	}
	p := orders.Product{ID: uuid.NewString(), SKU: sku, Name: name, PriceCents: priceCents, StockQty: stock, CreatedAt: now(), UpdatedAt: now()}
	s.products[p.ID] = p
	s.prodBySKU[sku] = p.ID
	return p
}

// ItemSpec is a seeding shorthand for one order line.
type ItemSpec struct {
	ProductID string
	Qty       int
	UnitPrice int
}

// PutOrder creates a PENDING order with items and a matching total.
func (s *Store) PutOrder(externalID, customerID string, items ...ItemSpec) orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := orders.Order{
		ID: uuid.NewString(), ExternalOrderID: externalID, CustomerID: customerID,
		Currency: "USD", PlacedAt: now(), Status: orders.StatusPending, CreatedAt: now(), UpdatedAt: now(),
	}
	for _, it := range items {
		oi := orders.OrderItem{ID: uuid.NewString(), OrderID: o.ID, ProductID: it.ProductID, UnitPriceCents: it.UnitPrice, Qty: it.Qty}
		s.items[o.ID] = append(s.items[o.ID], oi)
		o.TotalCents += oi.SubtotalCents()
	}
	s.orders[o.ID] = o
	s.orderByEx[externalID] = o.ID
	return o
}

func (s *Store) Stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].StockQty
}

func (s *Store) NotificationLogs() []orders.NotificationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.NotificationLog(nil), s.logs...)
}

// ---- reads ----

func (s *Store) GetOrder(_ context.Context, orderID string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["GetOrder"]; err != nil {
		return orders.Order{}, err
	}
	o, ok := s.orders[orderID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (s *Store) FindOrderByExternalID(_ context.Context, externalID string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.orderByEx[externalID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return s.orders[id], nil
}

func (s *Store) GetOrderStatus(ctx context.Context, orderID string) (orders.Status, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.Status, nil
}

func (s *Store) OrderItems(_ context.Context, orderID string) ([]orders.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["OrderItems"]; err != nil {
		return nil, err
	}
	return append([]orders.OrderItem(nil), s.items[orderID]...), nil
}

func (s *Store) GetCustomer(_ context.Context, customerID string) (orders.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return orders.Customer{}, orders.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetProduct(_ context.Context, productID string) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return orders.Product{}, orders.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

// ---- import ----

func (s *Store) upsertCustomer(externalID, email, name string) orders.Customer {
	if id, ok := s.custByExt[externalID]; ok {
		c := s.customers[id]
		c.Email, c.Name, c.UpdatedAt = email, name, now()
		s.customers[id] = c
		return c
	}
	c := orders.Customer{ID: uuid.NewString(), ExternalID: externalID, Email: email, Name: name, CreatedAt: now(), UpdatedAt: now()}
	s.customers[c.ID] = c
	s.custByExt[externalID] = c.ID
	return c
}

func (s *Store) ImportLine(_ context.Context, ln orders.ImportLine, shouldReset func(orderID string) bool) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["ImportLine"]; err != nil {
		return "", false, err
	}

	c := s.upsertCustomer(ln.CustomerExternalID, ln.CustomerEmail, ln.CustomerName)

	var p orders.Product
	if id, ok := s.prodBySKU[ln.SKU]; ok {
		p = s.products[id]
		p.Name, p.PriceCents, p.UpdatedAt = ln.ProductName, ln.UnitPriceCents, now()
	} else {
		p = orders.Product{ID: uuid.NewString(), SKU: ln.SKU, Name: ln.ProductName, PriceCents: ln.UnitPriceCents, StockQty: s.DefaultStock, CreatedAt: now(), UpdatedAt: now()}
		s.prodBySKU[ln.SKU] = p.ID
	}
	s.products[p.ID] = p

	var o orders.Order
	if id, ok := s.orderByEx[ln.ExternalOrderID]; ok {
		o = s.orders[id]
	} else {
		o = orders.Order{ID: uuid.NewString(), ExternalOrderID: ln.ExternalOrderID, Status: orders.StatusPending, CreatedAt: now()}
		s.orderByEx[ln.ExternalOrderID] = o.ID
	}
	o.CustomerID, o.Currency, o.PlacedAt, o.UpdatedAt = c.ID, ln.Currency, ln.PlacedAt, now()
	s.orders[o.ID] = o

	reset := shouldReset(o.ID)
	if reset {
		delete(s.items, o.ID)
	}
	s.items[o.ID] = append(s.items[o.ID], orders.OrderItem{
		ID: uuid.NewString(), OrderID: o.ID, ProductID: p.ID, UnitPriceCents: ln.UnitPriceCents, Qty: ln.Qty,
	})
	return o.ID, reset, nil
}

func (s *Store) RecomputeTotals(_ context.Context, orderIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range orderIDs {
		o, ok := s.orders[id]
		if !ok {
			continue
		}
		total := 0
		for _, it := range s.items[id] {
			total += it.SubtotalCents()
		}
		o.TotalCents, o.UpdatedAt = total, now()
		s.orders[id] = o
	}
	return nil
}

func (s *Store) InsertNotificationLog(_ context.Context, n orders.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["InsertNotificationLog"]; err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.SentAt.IsZero() {
		n.SentAt = now()
	}
	s.logs = append(s.logs, n)
	return nil
}
