package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// PaymentRepository provides data access for payment rows.
type PaymentRepository struct {
	pool database.TxQuerier
}

// NewPaymentRepository creates a PaymentRepository.
func NewPaymentRepository(pool database.TxQuerier) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Insert persists a payment row. The unique index on order_id for COMPLETED
// payments maps double-payment races to ErrDuplicateRow.
func (r *PaymentRepository) Insert(ctx context.Context, tx database.TxQuerier, p *model.Payment) error {
	query := `INSERT INTO payments
	          (order_id, user_id, method, status, external_txn_id, amount, point_amount, gateway_amount)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING id, created_at`

	err := tx.QueryRow(ctx, query,
		p.OrderID, p.UserID, p.Method, p.Status, p.ExternalTxnID,
		p.Amount, p.PointAmount, p.GatewayAmount).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRow
		}
		return fmt.Errorf("insert payment for order %d: %w", p.OrderID, err)
	}
	return nil
}

// GetCompletedByOrder returns the COMPLETED payment for an order, or nil.
func (r *PaymentRepository) GetCompletedByOrder(ctx context.Context, q database.TxQuerier, orderID int64) (*model.Payment, error) {
	query := `SELECT id, order_id, user_id, method, status, external_txn_id, amount, point_amount, gateway_amount, created_at
	          FROM payments WHERE order_id = $1 AND status = 'COMPLETED'`

	var p model.Payment
	err := q.QueryRow(ctx, query, orderID).Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Method, &p.Status, &p.ExternalTxnID,
		&p.Amount, &p.PointAmount, &p.GatewayAmount, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get completed payment for order %d: %w", orderID, err)
	}
	return &p, nil
}
