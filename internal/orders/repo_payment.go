package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// MarkOrderFailed moves a PENDING order to FAILED. applied=false means the
// order had already settled.
func (r *Repo) MarkOrderFailed(ctx context.Context, orderID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='FAILED', updated_at=NOW()
		WHERE id=$1 AND status='PENDING'`, orderID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// SettlePayment applies a charge outcome in one transaction.
// Sukses: upsert payment SUCCEEDED + status PAID.
// Gagal: kembalikan stok dari reservations, upsert payment FAILED + status FAILED.
// The order row is locked first so only one settlement can ever apply.
// Sukses tanpa reservasi RESERVED ditolak dengan ErrNotReserved.
func (r *Repo) SettlePayment(ctx context.Context, orderID string, out ChargeOutcome) (Order, bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
	if err != nil {
		return Order{}, false, err
	}
	if o.Status.Terminal() {
		return o, false, nil
	}

	next := StatusPaid
	if out.Succeeded {
		var reserved bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM reservations WHERE order_id=$1 AND status='RESERVED')`, orderID).Scan(&reserved); err != nil {
			return Order{}, false, err
		}
		if !reserved {
			return o, false, ErrNotReserved
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO payments(order_id, provider, provider_ref, amount_cents, status, paid_at)
			VALUES ($1, $2, $3, $4, 'SUCCEEDED', NOW())
			ON CONFLICT (order_id) DO UPDATE
			SET provider = EXCLUDED.provider, provider_ref = EXCLUDED.provider_ref,
			    amount_cents = EXCLUDED.amount_cents, status = EXCLUDED.status,
			    paid_at = EXCLUDED.paid_at, updated_at = NOW()`,
			orderID, out.Provider, out.ProviderRef, o.TotalCents)
		if err != nil {
			return Order{}, false, fmt.Errorf("upsert payment: %w", err)
		}
	} else {
		next = StatusFailed
		if err := releaseReservations(ctx, tx, orderID); err != nil {
			return Order{}, false, fmt.Errorf("release stock: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO payments(order_id, provider, provider_ref, amount_cents, status, paid_at)
			VALUES ($1, $2, $3, $4, 'FAILED', NULL)
			ON CONFLICT (order_id) DO UPDATE
			SET provider = EXCLUDED.provider, provider_ref = EXCLUDED.provider_ref,
			    amount_cents = EXCLUDED.amount_cents, status = EXCLUDED.status,
			    paid_at = NULL, updated_at = NOW()`,
			orderID, out.Provider, out.ProviderRef, o.TotalCents)
		if err != nil {
			return Order{}, false, fmt.Errorf("upsert payment: %w", err)
		}
	}

	if !CanTransition(o.Status, next) {
		return o, false, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=NOW() WHERE id=$1`, orderID, string(next)); err != nil {
		return Order{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	o.Status = next
	return o, true, nil
}

func (r *Repo) GetPayment(ctx context.Context, orderID string) (Payment, error) {
	var p Payment
	var s string
	var ref *string
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, provider, provider_ref, amount_cents, status, paid_at, created_at, updated_at
		FROM payments WHERE order_id=$1`, orderID).
		Scan(&p.ID, &p.OrderID, &p.Provider, &ref, &p.AmountCents, &s, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	if ref != nil {
		p.ProviderRef = *ref
	}
	p.Status = PaymentStatus(s)
	return p, nil
}
