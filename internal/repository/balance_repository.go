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

// BalanceRepository provides data access for user balances and their
// immutable history rows.
type BalanceRepository struct {
	pool database.TxQuerier
}

// NewBalanceRepository creates a BalanceRepository. pool is typically a
// *pgxpool.Pool; tests pass a fake.
func NewBalanceRepository(pool database.TxQuerier) *BalanceRepository {
	return &BalanceRepository{pool: pool}
}

// Get retrieves a user's balance without locking.
// Returns nil, nil when no row exists (service layer decides what that means).
func (r *BalanceRepository) Get(ctx context.Context, userID int64) (*model.UserBalance, error) {
	query := `SELECT user_id, balance, version, updated_at FROM user_balances WHERE user_id = $1`

	var b model.UserBalance
	err := r.pool.QueryRow(ctx, query, userID).Scan(&b.UserID, &b.Balance, &b.Version, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get balance for user %d: %w", userID, err)
	}
	return &b, nil
}

// GetForUpdate retrieves a user's balance with a row lock (SELECT FOR UPDATE).
// The lock is held until the transaction completes.
func (r *BalanceRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, userID int64) (*model.UserBalance, error) {
	query := `SELECT user_id, balance, version, updated_at FROM user_balances WHERE user_id = $1 FOR UPDATE`

	var b model.UserBalance
	err := tx.QueryRow(ctx, query, userID).Scan(&b.UserID, &b.Balance, &b.Version, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get balance for update, user %d: %w", userID, err)
	}
	return &b, nil
}

// CreateIfAbsent inserts a zero balance row for the user if none exists.
func (r *BalanceRepository) CreateIfAbsent(ctx context.Context, tx database.TxQuerier, userID int64) error {
	query := `INSERT INTO user_balances (user_id, balance, version) VALUES ($1, 0, 0)
	          ON CONFLICT (user_id) DO NOTHING`

	if _, err := tx.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("create balance for user %d: %w", userID, err)
	}
	return nil
}

// UpdateWithVersion applies the new balance iff the stored version matches.
// Returns model.ErrVersionConflict when a concurrent writer got there first.
func (r *BalanceRepository) UpdateWithVersion(ctx context.Context, tx database.TxQuerier, userID, newBalance, expectedVersion int64) error {
	query := `UPDATE user_balances
	          SET balance = $1, version = version + 1, updated_at = now()
	          WHERE user_id = $2 AND version = $3`

	tag, err := tx.Exec(ctx, query, newBalance, userID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update balance for user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrVersionConflict
	}
	return nil
}

// InsertHistory appends an immutable audit row.
func (r *BalanceRepository) InsertHistory(ctx context.Context, tx database.TxQuerier, h *model.BalanceHistory) error {
	query := `INSERT INTO balance_histories
	          (user_id, amount, type, balance_before, balance_after, order_id, description)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		h.UserID, h.Amount, h.Type, h.BalanceBefore, h.BalanceAfter, h.OrderID, h.Description)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRow
		}
		return fmt.Errorf("insert balance history for user %d: %w", h.UserID, err)
	}
	return nil
}

// SumDailyUse returns the total points used (as a positive number) since the
// given instant. USE rows carry negative amounts.
func (r *BalanceRepository) SumDailyUse(ctx context.Context, q database.TxQuerier, userID int64, since time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(-amount), 0) FROM balance_histories
	          WHERE user_id = $1 AND type = 'USE' AND created_at >= $2`

	var sum int64
	if err := q.QueryRow(ctx, query, userID, since).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum daily use for user %d: %w", userID, err)
	}
	return sum, nil
}

// HasRefundForOrder reports whether a REFUND row already exists for
// (userID, orderID). Used for refund idempotency.
func (r *BalanceRepository) HasRefundForOrder(ctx context.Context, q database.TxQuerier, userID, orderID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM balance_histories
	          WHERE user_id = $1 AND order_id = $2 AND type = 'REFUND')`

	var exists bool
	if err := q.QueryRow(ctx, query, userID, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check refund for user %d order %d: %w", userID, orderID, err)
	}
	return exists, nil
}

// ListHistories returns the newest history rows first, capped at limit.
func (r *BalanceRepository) ListHistories(ctx context.Context, userID int64, limit int) ([]model.BalanceHistory, error) {
	query := `SELECT id, user_id, amount, type, balance_before, balance_after, order_id, description, created_at
	          FROM balance_histories WHERE user_id = $1 ORDER BY id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list histories for user %d: %w", userID, err)
	}
	defer rows.Close()

	var histories []model.BalanceHistory
	for rows.Next() {
		var h model.BalanceHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.Amount, &h.Type,
			&h.BalanceBefore, &h.BalanceAfter, &h.OrderID, &h.Description, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		histories = append(histories, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	if histories == nil {
		histories = []model.BalanceHistory{}
	}
	return histories, nil
}
