package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// MarkPaymentPending records (or refreshes) the marker for an order whose
// push payment failed.
func (r *Repository) MarkPaymentPending(ctx context.Context, p domain.PendingPayment) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `INSERT INTO pending_payments (order_id, order_number, amount, phone, reason, created_at, resolved_at)
	          VALUES (?, ?, ?, ?, ?, ?, NULL)
	          ON CONFLICT (order_id) DO UPDATE SET
	              amount = excluded.amount,
	              phone = excluded.phone,
	              reason = excluded.reason,
	              resolved_at = NULL`

	_, err := r.db.ExecContext(ctx, query,
		p.OrderID,
		p.OrderNumber,
		p.Amount,
		p.Phone,
		p.Reason,
		createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert pending payment: %w", err)
	}
	return nil
}

// PendingPayments lists unresolved markers, oldest first.
func (r *Repository) PendingPayments(ctx context.Context) ([]domain.PendingPayment, error) {
	query := `SELECT order_id, order_number, amount, phone, reason, created_at
	          FROM pending_payments WHERE resolved_at IS NULL ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pending payments: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingPayment
	for rows.Next() {
		var p domain.PendingPayment
		var createdAt int64
		if err := rows.Scan(&p.OrderID, &p.OrderNumber, &p.Amount, &p.Phone, &p.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending payment row: %w", err)
		}
		p.CreatedAt = time.Unix(0, createdAt)
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// ResolvePayment marks the order as paid through another channel.
func (r *Repository) ResolvePayment(ctx context.Context, orderID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_payments SET resolved_at = ? WHERE order_id = ? AND resolved_at IS NULL`,
		time.Now().UnixNano(), orderID)
	if err != nil {
		return fmt.Errorf("resolve pending payment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

// PaymentByOrder returns the marker for one order, resolved or not.
func (r *Repository) PaymentByOrder(ctx context.Context, orderID int64) (*domain.PendingPayment, error) {
	query := `SELECT order_id, order_number, amount, phone, reason, created_at, resolved_at
	          FROM pending_payments WHERE order_id = ?`

	var p domain.PendingPayment
	var createdAt int64
	var resolvedAt sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&p.OrderID,
		&p.OrderNumber,
		&p.Amount,
		&p.Phone,
		&p.Reason,
		&createdAt,
		&resolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query pending payment by order: %w", err)
	}

	p.CreatedAt = time.Unix(0, createdAt)
	p.ResolvedAt = nullableTime(resolvedAt)
	return &p, nil
}
