package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// OrderRepository provides data access for orders, order items, and the
// order-coupon join table.
type OrderRepository struct {
	pool database.TxQuerier
}

// NewOrderRepository creates an OrderRepository.
func NewOrderRepository(pool database.TxQuerier) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Insert persists the order aggregate: header, items, and used-coupon set.
// Must be called inside the caller's transaction.
func (r *OrderRepository) Insert(ctx context.Context, tx database.TxQuerier, o *model.Order) error {
	query := `INSERT INTO orders
	          (order_number, user_id, total_amount, discount_amount, final_amount, status, version)
	          VALUES ($1, $2, $3, $4, $5, $6, 0)
	          RETURNING id, created_at, updated_at`

	err := tx.QueryRow(ctx, query,
		o.OrderNumber, o.UserID, o.TotalAmount, o.DiscountAmount, o.FinalAmount, o.Status).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		item.OrderID = o.ID
		err := tx.QueryRow(ctx,
			`INSERT INTO order_items
			 (order_id, product_id, product_name, unit_price, quantity, gift_wrap, gift_wrap_price, total_price)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			item.OrderID, item.ProductID, item.ProductName, item.UnitPrice,
			item.Quantity, item.GiftWrap, item.GiftWrapPrice, item.TotalPrice).
			Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("insert order item (product %d): %w", item.ProductID, err)
		}
	}

	for _, couponID := range o.UsedCouponIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_coupons (order_id, coupon_id) VALUES ($1, $2)`,
			o.ID, couponID); err != nil {
			return fmt.Errorf("insert order coupon %d: %w", couponID, err)
		}
	}
	return nil
}

// GetByID loads the full order aggregate without locking.
// Returns nil, nil when the order does not exist.
func (r *OrderRepository) GetByID(ctx context.Context, q database.TxQuerier, orderID int64) (*model.Order, error) {
	return r.get(ctx, q, orderID, false)
}

// GetForUpdate loads the order header with a row lock and the rest of the
// aggregate without one. Must run inside a transaction.
func (r *OrderRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, orderID int64) (*model.Order, error) {
	return r.get(ctx, tx, orderID, true)
}

func (r *OrderRepository) get(ctx context.Context, q database.TxQuerier, orderID int64, forUpdate bool) (*model.Order, error) {
	query := `SELECT id, order_number, user_id, total_amount, discount_amount, final_amount,
	                 status, failure_reason, version, created_at, updated_at
	          FROM orders WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var o model.Order
	err := q.QueryRow(ctx, query, orderID).Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.TotalAmount, &o.DiscountAmount, &o.FinalAmount,
		&o.Status, &o.FailureReason, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order %d: %w", orderID, err)
	}

	items, err := r.listItems(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	couponIDs, err := r.listCouponIDs(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	o.UsedCouponIDs = couponIDs

	return &o, nil
}

func (r *OrderRepository) listItems(ctx context.Context, q database.TxQuerier, orderID int64) ([]model.OrderItem, error) {
	rows, err := q.Query(ctx,
		`SELECT id, order_id, product_id, product_name, unit_price, quantity, gift_wrap, gift_wrap_price, total_price
		 FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list items for order %d: %w", orderID, err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName,
			&it.UnitPrice, &it.Quantity, &it.GiftWrap, &it.GiftWrapPrice, &it.TotalPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *OrderRepository) listCouponIDs(ctx context.Context, q database.TxQuerier, orderID int64) ([]int64, error) {
	rows, err := q.Query(ctx,
		`SELECT coupon_id FROM order_coupons WHERE order_id = $1 ORDER BY coupon_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list coupons for order %d: %w", orderID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order coupon: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order coupons: %w", err)
	}
	return ids, nil
}

// TransitionStatus moves the order from one status to another, guarded by the
// current status so concurrent transitions cannot race past the DAG.
// Returns model.ErrVersionConflict when the order was not in `from`.
func (r *OrderRepository) TransitionStatus(ctx context.Context, tx database.TxQuerier, orderID int64, from, to model.OrderStatus, reason string) error {
	query := `UPDATE orders
	          SET status = $1, failure_reason = $2, version = version + 1, updated_at = now()
	          WHERE id = $3 AND status = $4`

	tag, err := tx.Exec(ctx, query, to, reason, orderID, from)
	if err != nil {
		return fmt.Errorf("transition order %d %s -> %s: %w", orderID, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrVersionConflict
	}
	return nil
}

// ListStalePendingPayment returns ids of orders stuck in PENDING_PAYMENT
// since before the cutoff. Used by the expiry worker.
func (r *OrderRepository) ListStalePendingPayment(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM orders WHERE status = $1 AND created_at < $2 ORDER BY id LIMIT $3`,
		model.OrderPendingPayment, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale orders: %w", err)
	}
	return ids, nil
}
