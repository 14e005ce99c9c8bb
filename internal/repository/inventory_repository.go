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

// InventoryRepository provides data access for product stock rows.
type InventoryRepository struct {
	pool database.TxQuerier
}

// NewInventoryRepository creates an InventoryRepository.
func NewInventoryRepository(pool database.TxQuerier) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

// Get retrieves stock for a product. Returns nil, nil when not found.
func (r *InventoryRepository) Get(ctx context.Context, q database.TxQuerier, productID int64) (*model.Inventory, error) {
	query := `SELECT product_id, quantity, reserved_quantity, version, updated_at
	          FROM inventories WHERE product_id = $1`

	var inv model.Inventory
	err := q.QueryRow(ctx, query, productID).Scan(
		&inv.ProductID, &inv.Quantity, &inv.ReservedQuantity, &inv.Version, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get inventory for product %d: %w", productID, err)
	}
	return &inv, nil
}

// Deduct atomically removes qty from stock. The quantity guard in the WHERE
// clause makes over-selling impossible; zero rows affected means the stock
// was insufficient (or the product is unknown).
func (r *InventoryRepository) Deduct(ctx context.Context, tx database.TxQuerier, productID, qty int64) error {
	query := `UPDATE inventories
	          SET quantity = quantity - $1, version = version + 1, updated_at = now()
	          WHERE product_id = $2 AND quantity >= $1`

	tag, err := tx.Exec(ctx, query, qty, productID)
	if err != nil {
		return fmt.Errorf("deduct %d from product %d: %w", qty, productID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrVersionConflict
	}
	return nil
}

// Restore adds qty back to stock (order-cancel compensation).
func (r *InventoryRepository) Restore(ctx context.Context, tx database.TxQuerier, productID, qty int64) error {
	query := `UPDATE inventories
	          SET quantity = quantity + $1, version = version + 1, updated_at = now()
	          WHERE product_id = $2`

	tag, err := tx.Exec(ctx, query, qty, productID)
	if err != nil {
		return fmt.Errorf("restore %d to product %d: %w", qty, productID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("restore to unknown product %d", productID)
	}
	return nil
}

// DeliveryRepository provides data access for delivery rows.
type DeliveryRepository struct {
	pool database.TxQuerier
}

// NewDeliveryRepository creates a DeliveryRepository.
func NewDeliveryRepository(pool database.TxQuerier) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

// InsertIfAbsent creates a delivery for the order. The unique constraint on
// order_id makes redelivered PaymentCompleted events a no-op.
// Returns true when a new row was created.
func (r *DeliveryRepository) InsertIfAbsent(ctx context.Context, tx database.TxQuerier, orderID int64) (bool, error) {
	query := `INSERT INTO deliveries (order_id, status) VALUES ($1, $2)
	          ON CONFLICT (order_id) DO NOTHING`

	tag, err := tx.Exec(ctx, query, orderID, model.DeliveryPreparing)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("insert delivery for order %d: %w", orderID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CartRepository provides data access for cart items.
type CartRepository struct {
	pool database.TxQuerier
}

// NewCartRepository creates a CartRepository.
func NewCartRepository(pool database.TxQuerier) *CartRepository {
	return &CartRepository{pool: pool}
}

// DeleteItems removes purchased products from the user's cart. Deleting
// already-absent rows is a no-op, so redelivery is safe.
func (r *CartRepository) DeleteItems(ctx context.Context, q database.TxQuerier, userID int64, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	query := `DELETE FROM cart_items WHERE user_id = $1 AND product_id = ANY($2)`

	if _, err := q.Exec(ctx, query, userID, productIDs); err != nil {
		return fmt.Errorf("delete cart items for user %d: %w", userID, err)
	}
	return nil
}
