package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/event"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// CouponStore defines the coupon data access the service needs.
type CouponStore interface {
	CouponReader
	MarkUsed(ctx context.Context, tx database.TxQuerier, userID, couponID, orderID int64) (int64, error)
	MarkRestored(ctx context.Context, tx database.TxQuerier, userID, couponID, orderID int64) (int64, error)
}

// CouponService consumes and restores user coupons as orders settle and
// cancel. Issuance admission lives in the issuance package; this service
// covers the post-issue lifecycle.
type CouponService struct {
	db      DB
	coupons CouponStore
	events  EventWriter
}

// NewCouponService creates a CouponService.
func NewCouponService(db DB, coupons CouponStore, events EventWriter) *CouponService {
	return &CouponService{db: db, coupons: coupons, events: events}
}

// GetByID returns the coupon definition.
func (s *CouponService) GetByID(ctx context.Context, couponID int64) (*model.Coupon, error) {
	c, err := s.coupons.GetByID(ctx, s.db, couponID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCouponNotFound
	}
	return c, nil
}

// UseForOrder marks the order's coupons USED. Rows already consumed by this
// order count as replays; a coupon consumed by a different order is left
// alone and logged, since the discount was already granted at order time.
func (s *CouponService) UseForOrder(ctx context.Context, userID, orderID int64, couponIDs []int64, correlationID string) error {
	if len(couponIDs) == 0 {
		return nil
	}
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var consumed []int64
		for _, id := range couponIDs {
			n, err := s.coupons.MarkUsed(ctx, tx, userID, id, orderID)
			if err != nil {
				return err
			}
			if n == 0 {
				log.Warn().
					Int64("user_id", userID).
					Int64("coupon_id", id).
					Int64("order_id", orderID).
					Msg("coupon not in ISSUED state, skipping")
				continue
			}
			consumed = append(consumed, id)
		}
		if len(consumed) == 0 {
			return nil
		}
		_, err := s.events.Append(ctx, tx, event.TypeCouponUsed, event.AggregateCoupon,
			aggID(orderID), event.CouponUsedPayload{
				OrderID:       orderID,
				UserID:        userID,
				CouponIDs:     consumed,
				CorrelationID: correlationID,
			})
		return err
	})
}

// RestoreForOrder reverts USED coupons back to ISSUED after the order was
// cancelled. Only rows consumed by this exact order are touched, which makes
// redelivery a no-op.
func (s *CouponService) RestoreForOrder(ctx context.Context, userID, orderID int64, couponIDs []int64, correlationID string) error {
	if len(couponIDs) == 0 {
		return nil
	}
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var restored []int64
		for _, id := range couponIDs {
			n, err := s.coupons.MarkRestored(ctx, tx, userID, id, orderID)
			if err != nil {
				return err
			}
			if n > 0 {
				restored = append(restored, id)
			}
		}
		if len(restored) == 0 {
			return nil
		}
		_, err := s.events.Append(ctx, tx, event.TypeCouponRestored, event.AggregateCoupon,
			aggID(orderID), event.CouponRestoredPayload{
				OrderID:       orderID,
				UserID:        userID,
				CouponIDs:     restored,
				CorrelationID: correlationID,
			})
		return err
	})
}
