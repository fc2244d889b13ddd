package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
)

// ReserveStock: lock order row -> lock stok per product (FOR UPDATE) -> cek
// semua -> kurangi -> catat reservation. Kalau ada satu saja yang kurang,
// tidak ada perubahan yg di-commit (rollback).
func (r *Repo) ReserveStock(ctx context.Context, orderID string, need map[string]int) (ReserveResult, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReserveResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// serialize reservations of the same order
	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReserveResult{}, ErrNotFound
		}
		return ReserveResult{}, err
	}
	if Status(status).Terminal() {
		return ReserveResult{}, &TerminalError{Entity: "order", ID: orderID, Status: status}
	}

	// idempotent short-circuit: sudah di-reserve sebelumnya
	var n int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE order_id = $1 AND status = 'RESERVED'`, orderID).Scan(&n); err != nil {
		return ReserveResult{}, err
	}
	if n > 0 {
		return ReserveResult{OK: true, AlreadyReserved: true}, nil
	}

	ids := sortedIDs(need)
	rows, err := tx.Query(ctx, `
		SELECT id, stock_qty FROM products
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return ReserveResult{}, err
	}
	stock := make(map[string]int, len(ids))
	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			rows.Close()
			return ReserveResult{}, err
		}
		stock[id] = qty
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ReserveResult{}, err
	}

	var rejects []Shortage
	for _, id := range ids {
		if avail, ok := stock[id]; !ok || avail < need[id] {
			rejects = append(rejects, Shortage{ProductID: id, Required: need[id], Available: avail})
		}
	}
	if len(rejects) > 0 {
		return ReserveResult{Shortages: rejects}, nil // rollback via defer
	}

	for _, id := range ids {
		ct, err := tx.Exec(ctx, `
			UPDATE products SET stock_qty = stock_qty - $2, updated_at = NOW()
			WHERE id=$1 AND stock_qty >= $2`, id, need[id])
		if err != nil {
			return ReserveResult{}, err
		}
		if ct.RowsAffected() != 1 {
			return ReserveResult{}, fmt.Errorf("decrement %s: stock changed under row lock", id)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, product_id, qty, status)
			VALUES ($1,$2,$3,'RESERVED')
			ON CONFLICT (order_id, product_id) DO UPDATE SET qty = EXCLUDED.qty, status = 'RESERVED'
		`, orderID, id, need[id]); err != nil {
			return ReserveResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, err
	}
	return ReserveResult{OK: true}, nil
}

// releaseReservations puts reserved stock back inside the caller's tx.
// Compensating increment, bukan rollback storage.
func releaseReservations(ctx context.Context, tx pgx.Tx, orderID string) error {
	rows, err := tx.Query(ctx, `SELECT product_id, qty FROM reservations WHERE order_id=$1 AND status='RESERVED'`, orderID)
	if err != nil {
		return err
	}
	need := map[string]int{}
	for rows.Next() {
		var pid string
		var qty int
		if err := rows.Scan(&pid, &qty); err != nil {
			rows.Close()
			return err
		}
		need[pid] += qty
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(need) == 0 {
		return nil
	}

	ids := sortedIDs(need)
	if _, err := tx.Exec(ctx, `SELECT id FROM products WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`, ids); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.Exec(ctx, `UPDATE products SET stock_qty = stock_qty + $2, updated_at = NOW() WHERE id=$1`, id, need[id]); err != nil {
			return err
		}
	}
	_, err = tx.Exec(ctx, `UPDATE reservations SET status='RELEASED' WHERE order_id=$1 AND status='RESERVED'`, orderID)
	return err
}

func (r *Repo) Reservations(ctx context.Context, orderID string) ([]Reservation, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, qty, status, created_at
		FROM reservations WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var x Reservation
		if err := rows.Scan(&x.ID, &x.OrderID, &x.ProductID, &x.Qty, &x.Status, &x.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

func sortedIDs(m map[string]int) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
