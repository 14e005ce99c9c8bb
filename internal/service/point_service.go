package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/lock"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// BalanceStore defines the balance data access the point engine needs.
type BalanceStore interface {
	Get(ctx context.Context, userID int64) (*model.UserBalance, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, userID int64) (*model.UserBalance, error)
	CreateIfAbsent(ctx context.Context, tx database.TxQuerier, userID int64) error
	UpdateWithVersion(ctx context.Context, tx database.TxQuerier, userID, newBalance, expectedVersion int64) error
	InsertHistory(ctx context.Context, tx database.TxQuerier, h *model.BalanceHistory) error
	SumDailyUse(ctx context.Context, q database.TxQuerier, userID int64, since time.Time) (int64, error)
	HasRefundForOrder(ctx context.Context, q database.TxQuerier, userID, orderID int64) (bool, error)
	ListHistories(ctx context.Context, userID int64, limit int) ([]model.BalanceHistory, error)
}

// Locker serializes user-scoped work across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// PointService is the concurrent point-balance engine. Correctness comes
// from three layers: the in-process per-user lock serializes goroutines,
// the distributed lease serializes instances, and the row lock plus
// optimistic version catch anything that slips through.
type PointService struct {
	pool          database.TxBeginner
	balances      BalanceStore
	userLocks     *lock.UserLocks
	locker        Locker
	maxBalance    int64
	dailyUseLimit int64
}

// NewPointService creates a PointService.
func NewPointService(pool database.TxBeginner, balances BalanceStore, userLocks *lock.UserLocks, locker Locker, maxBalance, dailyUseLimit int64) *PointService {
	return &PointService{
		pool:          pool,
		balances:      balances,
		userLocks:     userLocks,
		locker:        locker,
		maxBalance:    maxBalance,
		dailyUseLimit: dailyUseLimit,
	}
}

// pointLockKey is the distributed lease key for a user's point operations.
func pointLockKey(userID int64) string {
	return lock.Key("pt", strconv.FormatInt(userID, 10))
}

// withUserLock nests the in-process lock inside the distributed lease,
// honoring the global lock order (J-lock before DB row locks).
func (s *PointService) withUserLock(ctx context.Context, userID int64, fn func(ctx context.Context) error) error {
	unlock := s.userLocks.Lock(userID)
	defer unlock()

	err := s.locker.WithLock(ctx, pointLockKey(userID), fn)
	if errors.Is(err, lock.ErrLockTimeout) {
		return ErrLockTimeout
	}
	return err
}

// Charge adds points to the user's balance.
// Amount must be within [1000, 1000000] and a multiple of 100.
func (s *PointService) Charge(ctx context.Context, userID, amount int64, description string) (*model.UserBalance, error) {
	if amount < model.MinChargeAmount || amount > model.MaxChargeAmount || amount%model.AmountStep != 0 {
		return nil, ErrInvalidPointAmount.WithData(map[string]any{"amount": amount})
	}

	var result *model.UserBalance
	err := s.withUserLock(ctx, userID, func(ctx context.Context) error {
		return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			if err := s.balances.CreateIfAbsent(ctx, tx, userID); err != nil {
				return err
			}
			b, err := s.balances.GetForUpdate(ctx, tx, userID)
			if err != nil {
				return err
			}

			newBalance := b.Balance + amount
			if newBalance > s.maxBalance {
				return ErrMaxBalanceExceeded.WithData(map[string]any{
					"currentBalance": b.Balance,
					"chargeAmount":   amount,
					"maxBalance":     s.maxBalance,
				})
			}

			if err := s.balances.UpdateWithVersion(ctx, tx, userID, newBalance, b.Version); err != nil {
				return translateVersionConflict(err)
			}
			if err := s.balances.InsertHistory(ctx, tx, &model.BalanceHistory{
				UserID:        userID,
				Amount:        amount,
				Type:          model.BalanceEarn,
				BalanceBefore: b.Balance,
				BalanceAfter:  newBalance,
				Description:   description,
			}); err != nil {
				return err
			}

			result = &model.UserBalance{UserID: userID, Balance: newBalance, Version: b.Version + 1}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Deduct uses points for an order. Amount must be >= 100 and a multiple of
// 100; the daily use limit is enforced inside the transaction.
func (s *PointService) Deduct(ctx context.Context, userID, amount int64, orderID *int64, description string) (*model.UserBalance, error) {
	if amount < model.MinUseAmount {
		return nil, ErrMinimumUseAmount.WithData(map[string]any{"amount": amount})
	}
	if amount%model.AmountStep != 0 {
		return nil, ErrInvalidPointAmount.WithData(map[string]any{"amount": amount})
	}

	var result *model.UserBalance
	err := s.withUserLock(ctx, userID, func(ctx context.Context) error {
		return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			b, err := s.balances.GetForUpdate(ctx, tx, userID)
			if err != nil {
				return err
			}
			if b == nil {
				return ErrUserPointNotFound
			}

			used, err := s.balances.SumDailyUse(ctx, tx, userID, startOfDayUTC(time.Now()))
			if err != nil {
				return err
			}
			if used+amount > s.dailyUseLimit {
				return ErrDailyUseLimitExceeded.WithData(map[string]any{
					"usedToday":  used,
					"useAmount":  amount,
					"dailyLimit": s.dailyUseLimit,
				})
			}

			if b.Balance < amount {
				return ErrInsufficientBalance.WithData(map[string]any{
					"currentBalance": b.Balance,
					"useAmount":      amount,
				})
			}

			newBalance := b.Balance - amount
			if err := s.balances.UpdateWithVersion(ctx, tx, userID, newBalance, b.Version); err != nil {
				return translateVersionConflict(err)
			}
			if err := s.balances.InsertHistory(ctx, tx, &model.BalanceHistory{
				UserID:        userID,
				Amount:        -amount,
				Type:          model.BalanceUse,
				BalanceBefore: b.Balance,
				BalanceAfter:  newBalance,
				OrderID:       orderID,
				Description:   description,
			}); err != nil {
				return err
			}

			result = &model.UserBalance{UserID: userID, Balance: newBalance, Version: b.Version + 1}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refund returns points for a cancelled order. Idempotent on
// (userID, orderID): a second refund for the same pair is a no-op.
func (s *PointService) Refund(ctx context.Context, userID, amount, orderID int64, description string) error {
	if amount <= 0 {
		return ErrInvalidPointAmount.WithData(map[string]any{"amount": amount})
	}

	return s.withUserLock(ctx, userID, func(ctx context.Context) error {
		return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			refunded, err := s.balances.HasRefundForOrder(ctx, tx, userID, orderID)
			if err != nil {
				return err
			}
			if refunded {
				return nil
			}

			if err := s.balances.CreateIfAbsent(ctx, tx, userID); err != nil {
				return err
			}
			b, err := s.balances.GetForUpdate(ctx, tx, userID)
			if err != nil {
				return err
			}

			newBalance := b.Balance + amount
			if err := s.balances.UpdateWithVersion(ctx, tx, userID, newBalance, b.Version); err != nil {
				return translateVersionConflict(err)
			}
			return s.balances.InsertHistory(ctx, tx, &model.BalanceHistory{
				UserID:        userID,
				Amount:        amount,
				Type:          model.BalanceRefund,
				BalanceBefore: b.Balance,
				BalanceAfter:  newBalance,
				OrderID:       &orderID,
				Description:   description,
			})
		})
	})
}

// GetBalance returns the user's current balance.
func (s *PointService) GetBalance(ctx context.Context, userID int64) (*model.UserBalance, error) {
	b, err := s.balances.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrUserPointNotFound
	}
	return b, nil
}

// GetHistories returns the newest balance history rows, capped at 100.
func (s *PointService) GetHistories(ctx context.Context, userID int64) ([]model.BalanceHistory, error) {
	return s.balances.ListHistories(ctx, userID, 100)
}

func translateVersionConflict(err error) error {
	if errors.Is(err, model.ErrVersionConflict) {
		return ErrConcurrencyConflict
	}
	return err
}

func startOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
