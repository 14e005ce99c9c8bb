package issuance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/event"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/lock"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/repository"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// EventWriter appends domain events inside the caller's transaction.
type EventWriter interface {
	Append(ctx context.Context, tx database.TxQuerier, eventType, aggregateType, aggregateID string, payload any) (int64, error)
}

// Locker serializes the drain of one coupon across instances.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// incrementRetries bounds the optimistic-version retry loop per entry.
const incrementRetries = 3

// Drainer moves accepted admissions from the memory-store queue into
// durable UserCoupon rows. Entries leave the queue only after their
// transaction commits; a failed entry keeps its score, so drain order stays
// admission order.
type Drainer struct {
	client    redis.UniversalClient
	db        DB
	coupons   CouponStore
	events    EventWriter
	locker    Locker
	batchSize int
}

// NewDrainer creates a Drainer.
func NewDrainer(client redis.UniversalClient, db DB, coupons CouponStore, events EventWriter, locker Locker, batchSize int) *Drainer {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Drainer{client: client, db: db, coupons: coupons, events: events, locker: locker, batchSize: batchSize}
}

// DrainAll drains one batch for every coupon with a live queue. Returns the
// total number of admissions persisted this pass.
func (d *Drainer) DrainAll(ctx context.Context) (int, error) {
	ids, err := d.client.SMembers(ctx, keyActive).Result()
	if err != nil {
		return 0, fmt.Errorf("list active coupons: %w", err)
	}

	total := 0
	for _, raw := range ids {
		couponID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Error().Str("member", raw).Msg("malformed active coupon id, removing")
			d.client.SRem(ctx, keyActive, raw)
			continue
		}
		n, err := d.drainWithLock(ctx, couponID)
		total += n
		if err != nil {
			log.Error().Err(err).Int64("coupon_id", couponID).Msg("drain pass failed")
		}
	}
	return total, nil
}

// drainWithLock serializes the per-coupon drain across instances. A held
// lease means another instance is already draining this coupon; skip and let
// the next tick retry.
func (d *Drainer) drainWithLock(ctx context.Context, couponID int64) (int, error) {
	n := 0
	err := d.locker.WithLock(ctx, lock.Key("cpn", strconv.FormatInt(couponID, 10)),
		func(ctx context.Context) error {
			var innerErr error
			n, innerErr = d.drainCoupon(ctx, couponID)
			return innerErr
		})
	if errors.Is(err, lock.ErrLockTimeout) {
		log.Debug().Int64("coupon_id", couponID).Msg("drain lease held elsewhere, skipping")
		return 0, nil
	}
	return n, err
}

// drainCoupon persists up to batchSize queued admissions in score order.
func (d *Drainer) drainCoupon(ctx context.Context, couponID int64) (int, error) {
	entries, err := d.client.ZRangeWithScores(ctx, keyQueue(couponID), 0, int64(d.batchSize-1)).Result()
	if err != nil {
		return 0, fmt.Errorf("read queue for coupon %d: %w", couponID, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	drained := 0
	for _, entry := range entries {
		member, ok := entry.Member.(string)
		if !ok {
			continue
		}
		userID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			log.Error().Str("member", member).Int64("coupon_id", couponID).
				Msg("malformed queue member, dropping")
			d.client.ZRem(ctx, keyQueue(couponID), member)
			continue
		}

		if err := d.persist(ctx, couponID, userID); err != nil {
			// Leave the entry queued with its score; the next pass retries
			// in the same position.
			return drained, fmt.Errorf("persist issuance (coupon %d, user %d): %w", couponID, userID, err)
		}
		if err := d.client.ZRem(ctx, keyQueue(couponID), member).Err(); err != nil {
			return drained, fmt.Errorf("dequeue (coupon %d, user %d): %w", couponID, userID, err)
		}
		drained++
	}
	return drained, nil
}

// persist writes the UserCoupon row, bumps issued_quantity, and co-commits
// the CouponIssued notification event. A duplicate row means a previous
// pass committed but crashed before dequeueing; that entry is simply done.
func (d *Drainer) persist(ctx context.Context, couponID, userID int64) error {
	return database.WithTx(ctx, d.db, func(tx pgx.Tx) error {
		if err := d.coupons.InsertUserCoupon(ctx, tx, userID, couponID, time.Now()); err != nil {
			if errors.Is(err, repository.ErrDuplicateRow) {
				log.Debug().Int64("coupon_id", couponID).Int64("user_id", userID).
					Msg("user coupon already persisted")
				return nil
			}
			return err
		}

		if err := d.incrementIssued(ctx, tx, couponID); err != nil {
			return err
		}

		_, err := d.events.Append(ctx, tx, event.TypeCouponIssued, event.AggregateCoupon,
			fmt.Sprintf("%d:%d", couponID, userID), event.CouponIssuedPayload{
				CouponID:      couponID,
				UserID:        userID,
				CorrelationID: fmt.Sprintf("issue-%d-%d", couponID, userID),
			})
		return err
	})
}

// incrementIssued retries the version CAS a few times; concurrent drains of
// the same coupon are rare but possible across instances.
func (d *Drainer) incrementIssued(ctx context.Context, tx database.TxQuerier, couponID int64) error {
	var lastErr error
	for attempt := 0; attempt < incrementRetries; attempt++ {
		c, err := d.coupons.GetByID(ctx, tx, couponID)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("coupon %d vanished during drain", couponID)
		}
		err = d.coupons.IncrementIssued(ctx, tx, couponID, c.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
