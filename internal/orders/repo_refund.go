package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const refundColumns = `id, order_id, amount_cents, COALESCE(reason, ''), COALESCE(idempotency_key, ''), status, processed_at, created_at, updated_at`

func scanRefund(row pgx.Row) (Refund, error) {
	var rf Refund
	var s string
	err := row.Scan(&rf.ID, &rf.OrderID, &rf.AmountCents, &rf.Reason, &rf.IdempotencyKey, &s, &rf.ProcessedAt, &rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Refund{}, ErrNotFound
		}
		return Refund{}, err
	}
	rf.Status = RefundStatus(s)
	return rf, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateRefund inserts a REQUESTED refund. With an idempotency key that was
// already used, the existing refund is returned and created is false.
func (r *Repo) CreateRefund(ctx context.Context, rf Refund) (Refund, bool, error) {
	row := r.DB.QueryRow(ctx, `
		INSERT INTO refunds(order_id, amount_cents, reason, idempotency_key, status)
		VALUES ($1, $2, $3, $4, 'REQUESTED')
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING `+refundColumns,
		rf.OrderID, rf.AmountCents, nullIfEmpty(rf.Reason), nullIfEmpty(rf.IdempotencyKey))
	created, err := scanRefund(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Refund{}, false, err
	}
	// conflict: key sudah dipakai
	existing, err := scanRefund(r.DB.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE idempotency_key=$1`, rf.IdempotencyKey))
	if err != nil {
		return Refund{}, false, err
	}
	return existing, false, nil
}

func (r *Repo) GetRefund(ctx context.Context, refundID string) (Refund, error) {
	if !validID(refundID) {
		return Refund{}, ErrNotFound
	}
	return scanRefund(r.DB.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id=$1`, refundID))
}

func (r *Repo) MarkRefundFailed(ctx context.Context, refundID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE refunds SET status='FAILED', updated_at=NOW()
		WHERE id=$1 AND status='REQUESTED'`, refundID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// ProcessRefund locks the refund, runs apply while the transaction is open
// and marks the refund PROCESSED. An error from apply rolls everything back.
func (r *Repo) ProcessRefund(ctx context.Context, refundID string, apply func(ctx context.Context, rf Refund) error) (Refund, bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Refund{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rf, err := scanRefund(tx.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id=$1 FOR UPDATE`, refundID))
	if err != nil {
		return Refund{}, false, err
	}
	if !CanTransitionRefund(rf.Status, RefundProcessed) {
		return rf, false, nil
	}
	if err := apply(ctx, rf); err != nil {
		return Refund{}, false, err
	}

	if err := tx.QueryRow(ctx, `
		UPDATE refunds SET status='PROCESSED', processed_at=NOW(), updated_at=NOW()
		WHERE id=$1
		RETURNING processed_at`, refundID).Scan(&rf.ProcessedAt); err != nil {
		return Refund{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Refund{}, false, err
	}
	rf.Status = RefundProcessed
	return rf, true, nil
}
