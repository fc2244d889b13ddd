package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the postgres-backed store. DefaultStock seeds stock_qty for
// products first seen by an import.
type Repo struct {
	DB           *pgxpool.Pool
	DefaultStock int
}

const orderColumns = `id, external_order_id, customer_id, currency, placed_at, status, total_cents, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var s string
	err := row.Scan(&o.ID, &o.ExternalOrderID, &o.CustomerID, &o.Currency, &o.PlacedAt, &s, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	o.Status = Status(s)
	return o, nil
}

// validID keeps malformed ids coming from the CLI or HTTP away from uuid columns.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if !validID(orderID) {
		return Order{}, ErrNotFound
	}
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
}

func (r *Repo) FindOrderByExternalID(ctx context.Context, externalID string) (Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_order_id=$1`, externalID))
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	if !validID(orderID) {
		return "", ErrNotFound
	}
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

func (r *Repo) OrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, unit_price_cents, qty
		FROM order_items WHERE order_id=$1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.UnitPriceCents, &it.Qty); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	var c Customer
	err := r.DB.QueryRow(ctx, `SELECT id, external_id, email, name, created_at, updated_at FROM customers WHERE id=$1`, customerID).
		Scan(&c.ID, &c.ExternalID, &c.Email, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

func (r *Repo) GetProduct(ctx context.Context, productID string) (Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `SELECT id, sku, name, stock_qty, price_cents, created_at, updated_at FROM products WHERE id=$1`, productID).
		Scan(&p.ID, &p.SKU, &p.Name, &p.StockQty, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, sku, name, stock_qty, price_cents, created_at, updated_at
                                FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.StockQty, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ImportLine upserts customer, product and order for one row and appends the
// item, all in one transaction. shouldReset is asked once with the resolved
// order id; when it answers true the order's existing items are deleted first.
func (r *Repo) ImportLine(ctx context.Context, ln ImportLine, shouldReset func(orderID string) bool) (orderID string, reset bool, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var customerID string
	err = tx.QueryRow(ctx, `
		INSERT INTO customers(external_id, email, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, updated_at = NOW()
		RETURNING id`, ln.CustomerExternalID, ln.CustomerEmail, ln.CustomerName).Scan(&customerID)
	if err != nil {
		return "", false, fmt.Errorf("upsert customer %s: %w", ln.CustomerExternalID, err)
	}

	// stock hanya di-set saat insert pertama, re-import tidak reset stok
	var productID string
	err = tx.QueryRow(ctx, `
		INSERT INTO products(sku, name, price_cents, stock_qty)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sku) DO UPDATE
		SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents, updated_at = NOW()
		RETURNING id`, ln.SKU, ln.ProductName, ln.UnitPriceCents, r.DefaultStock).Scan(&productID)
	if err != nil {
		return "", false, fmt.Errorf("upsert product %s: %w", ln.SKU, err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(external_order_id, customer_id, currency, placed_at, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		ON CONFLICT (external_order_id) DO UPDATE
		SET customer_id = EXCLUDED.customer_id, currency = EXCLUDED.currency,
		    placed_at = EXCLUDED.placed_at, updated_at = NOW()
		RETURNING id`, ln.ExternalOrderID, customerID, ln.Currency, ln.PlacedAt).Scan(&orderID)
	if err != nil {
		return "", false, fmt.Errorf("upsert order %s: %w", ln.ExternalOrderID, err)
	}

	if shouldReset(orderID) {
		if _, err = tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, orderID); err != nil {
			return "", false, fmt.Errorf("reset items %s: %w", orderID, err)
		}
		reset = true
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO order_items(order_id, product_id, unit_price_cents, qty)
		VALUES ($1, $2, $3, $4)`, orderID, productID, ln.UnitPriceCents, ln.Qty); err != nil {
		return "", false, fmt.Errorf("insert item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, err
	}
	return orderID, reset, nil
}

// RecomputeTotals sets total_cents of every given order to the sum of its
// persisted item subtotals (0 when it has none).
func (r *Repo) RecomputeTotals(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	_, err := r.DB.Exec(ctx, `
		UPDATE orders o
		SET total_cents = COALESCE(s.total, 0), updated_at = NOW()
		FROM unnest($1::uuid[]) AS ids(id)
		LEFT JOIN (
			SELECT order_id, SUM(subtotal_cents) AS total
			FROM order_items
			WHERE order_id = ANY($1::uuid[])
			GROUP BY order_id
		) s ON s.order_id = ids.id
		WHERE o.id = ids.id`, orderIDs)
	return err
}

func (r *Repo) InsertNotificationLog(ctx context.Context, n NotificationLog) error {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO notification_logs(order_id, customer_id, channel, status, total_cents, payload, success, error, sent_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		n.OrderID, n.CustomerID, n.Channel, n.Status, n.TotalCents, n.Payload, n.Success, n.Error, n.SentAt)
	return err
}
