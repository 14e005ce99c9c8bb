package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// CouponRepository provides data access for coupon definitions and the
// per-user issued coupons.
type CouponRepository struct {
	pool database.TxQuerier
}

// NewCouponRepository creates a CouponRepository.
func NewCouponRepository(pool database.TxQuerier) *CouponRepository {
	return &CouponRepository{pool: pool}
}

const couponColumns = `id, code, discount_type, discount_value, min_order_amount,
	total_quantity, issued_quantity, valid_from, valid_to, version, created_at`

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var c model.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue, &c.MinOrderAmount,
		&c.TotalQuantity, &c.IssuedQuantity, &c.ValidFrom, &c.ValidTo, &c.Version, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID retrieves a coupon definition. Returns nil, nil when not found.
func (r *CouponRepository) GetByID(ctx context.Context, q database.TxQuerier, couponID int64) (*model.Coupon, error) {
	c, err := scanCoupon(q.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE id = $1`, couponID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coupon %d: %w", couponID, err)
	}
	return c, nil
}

// IncrementIssued bumps issued_quantity via optimistic version check.
// The quantity guard keeps issued_quantity <= total_quantity even if the
// memory-store admission gate were ever bypassed.
func (r *CouponRepository) IncrementIssued(ctx context.Context, tx database.TxQuerier, couponID, expectedVersion int64) error {
	query := `UPDATE coupons
	          SET issued_quantity = issued_quantity + 1, version = version + 1
	          WHERE id = $1 AND version = $2 AND issued_quantity < total_quantity`

	tag, err := tx.Exec(ctx, query, couponID, expectedVersion)
	if err != nil {
		return fmt.Errorf("increment issued for coupon %d: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrVersionConflict
	}
	return nil
}

// InsertUserCoupon inserts an ISSUED row.
// Returns ErrDuplicateRow when the user already holds this coupon; the
// partial unique index on (user_id, coupon_id) WHERE status = 'ISSUED'
// enforces at most one active row.
func (r *CouponRepository) InsertUserCoupon(ctx context.Context, tx database.TxQuerier, userID, couponID int64, issuedAt time.Time) error {
	query := `INSERT INTO user_coupons (user_id, coupon_id, status, issued_at)
	          VALUES ($1, $2, 'ISSUED', $3)`

	_, err := tx.Exec(ctx, query, userID, couponID, issuedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRow
		}
		return fmt.Errorf("insert user coupon (user %d, coupon %d): %w", userID, couponID, err)
	}
	return nil
}

// GetActiveUserCoupon returns the ISSUED row for (userID, couponID), or nil.
func (r *CouponRepository) GetActiveUserCoupon(ctx context.Context, q database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
	query := `SELECT id, user_id, coupon_id, status, used_order_id, issued_at, used_at
	          FROM user_coupons WHERE user_id = $1 AND coupon_id = $2 AND status = 'ISSUED'`

	var uc model.UserCoupon
	err := q.QueryRow(ctx, query, userID, couponID).Scan(
		&uc.ID, &uc.UserID, &uc.CouponID, &uc.Status, &uc.UsedOrderID, &uc.IssuedAt, &uc.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active user coupon (user %d, coupon %d): %w", userID, couponID, err)
	}
	return &uc, nil
}

// MarkUsed transitions ISSUED -> USED for the given order. Returns the number
// of rows updated so callers can detect replays (0 rows = already used).
func (r *CouponRepository) MarkUsed(ctx context.Context, tx database.TxQuerier, userID, couponID, orderID int64) (int64, error) {
	query := `UPDATE user_coupons
	          SET status = 'USED', used_order_id = $1, used_at = now()
	          WHERE user_id = $2 AND coupon_id = $3 AND status = 'ISSUED'`

	tag, err := tx.Exec(ctx, query, orderID, userID, couponID)
	if err != nil {
		return 0, fmt.Errorf("mark coupon used (user %d, coupon %d): %w", userID, couponID, err)
	}
	return tag.RowsAffected(), nil
}

// MarkRestored reverts USED -> ISSUED for coupons consumed by a cancelled
// order. Idempotent: rows not in USED state for this order are left alone.
func (r *CouponRepository) MarkRestored(ctx context.Context, tx database.TxQuerier, userID, couponID, orderID int64) (int64, error) {
	query := `UPDATE user_coupons
	          SET status = 'ISSUED', used_order_id = NULL, used_at = NULL
	          WHERE user_id = $1 AND coupon_id = $2 AND used_order_id = $3 AND status = 'USED'`

	tag, err := tx.Exec(ctx, query, userID, couponID, orderID)
	if err != nil {
		return 0, fmt.Errorf("restore coupon (user %d, coupon %d): %w", userID, couponID, err)
	}
	return tag.RowsAffected(), nil
}

// CountIssued returns how many ISSUED rows exist for a coupon.
func (r *CouponRepository) CountIssued(ctx context.Context, couponID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_coupons WHERE coupon_id = $1 AND status = 'ISSUED'`,
		couponID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count issued for coupon %d: %w", couponID, err)
	}
	return n, nil
}
