// Package issuance implements the limited-coupon admission engine: a
// memory-store fast path that decides accept/reject under load, and a drain
// worker that turns accepted admissions into durable UserCoupon rows.
package issuance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/service"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// DB combines querying with transaction start.
type DB interface {
	database.TxQuerier
	database.TxBeginner
}

// CouponStore is the durable side of issuance.
type CouponStore interface {
	GetByID(ctx context.Context, q database.TxQuerier, couponID int64) (*model.Coupon, error)
	IncrementIssued(ctx context.Context, tx database.TxQuerier, couponID, expectedVersion int64) error
	InsertUserCoupon(ctx context.Context, tx database.TxQuerier, userID, couponID int64, issuedAt time.Time) error
}

// Memory-store keys under ecom:cpn:iss:*.
const (
	keyActive = "ecom:cpn:iss:active" // set of coupon ids with live queues
)

func issKey(kind string, couponID int64) string {
	return fmt.Sprintf("ecom:cpn:iss:%s:%d", kind, couponID)
}

func keyIssued(couponID int64) string  { return issKey("issued", couponID) }
func keyQueue(couponID int64) string   { return issKey("queue", couponID) }
func keyCounter(couponID int64) string { return issKey("cnt", couponID) }
func keySoldOut(couponID int64) string { return issKey("soldout", couponID) }
func keyMax(couponID int64) string     { return issKey("max", couponID) }

// Engine runs the admission protocol. Correctness rests on two atomic
// memory-store operations: set-add gates duplicates, counter-increment gates
// quantity. Over-admission is rolled back immediately, so at most maxQty
// users ever sit in the queue.
type Engine struct {
	client  redis.UniversalClient
	db      DB
	coupons CouponStore
}

// NewEngine creates an issuance Engine.
func NewEngine(client redis.UniversalClient, db DB, coupons CouponStore) *Engine {
	return &Engine{client: client, db: db, coupons: coupons}
}

// Activate publishes the coupon's quantity cap to the memory store so the
// admission fast path never needs the database. Re-activation refreshes the
// cap and registers the coupon for draining.
func (e *Engine) Activate(ctx context.Context, couponID int64) error {
	c, err := e.coupons.GetByID(ctx, e.db, couponID)
	if err != nil {
		return err
	}
	if c == nil {
		return service.ErrCouponNotFound
	}

	pipe := e.client.TxPipeline()
	pipe.Set(ctx, keyMax(couponID), c.TotalQuantity, 0)
	pipe.SAdd(ctx, keyActive, couponID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("activate coupon %d: %w", couponID, err)
	}

	log.Info().Int64("coupon_id", couponID).Int64("max", c.TotalQuantity).Msg("coupon issuance activated")
	return nil
}

// Issue runs one admission attempt for (couponID, userID).
func (e *Engine) Issue(ctx context.Context, couponID, userID int64) (*model.IssueCouponResult, error) {
	// Fast reject once the cap was hit; saves the set/counter round trips.
	sold, err := e.client.Exists(ctx, keySoldOut(couponID)).Result()
	if err != nil {
		return nil, fmt.Errorf("check soldout for coupon %d: %w", couponID, err)
	}
	if sold > 0 {
		return &model.IssueCouponResult{Status: model.IssueSoldOut}, nil
	}

	maxQty, err := e.maxQuantity(ctx, couponID)
	if err != nil {
		return nil, err
	}

	member := strconv.FormatInt(userID, 10)
	added, err := e.client.SAdd(ctx, keyIssued(couponID), member).Result()
	if err != nil {
		return nil, fmt.Errorf("dedup add for coupon %d: %w", couponID, err)
	}
	if added == 0 {
		return &model.IssueCouponResult{Status: model.IssueAlreadyIssued}, nil
	}

	n, err := e.client.Incr(ctx, keyCounter(couponID)).Result()
	if err != nil {
		return nil, fmt.Errorf("admission counter for coupon %d: %w", couponID, err)
	}
	if n > maxQty {
		// Over-admitted; roll back this user's slot and latch the flag.
		pipe := e.client.TxPipeline()
		pipe.Set(ctx, keySoldOut(couponID), 1, 0)
		pipe.SRem(ctx, keyIssued(couponID), member)
		pipe.Decr(ctx, keyCounter(couponID))
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("soldout rollback for coupon %d: %w", couponID, err)
		}
		return &model.IssueCouponResult{Status: model.IssueSoldOut}, nil
	}

	// The admission counter doubles as the queue score, so drain order is
	// exactly admission order and a re-queued entry keeps its place.
	pipe := e.client.TxPipeline()
	pipe.ZAdd(ctx, keyQueue(couponID), redis.Z{Score: float64(n), Member: member})
	pipe.SAdd(ctx, keyActive, couponID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue admission for coupon %d: %w", couponID, err)
	}

	return &model.IssueCouponResult{Status: model.IssueAccepted, QueuePosition: n}, nil
}

// maxQuantity reads the cap, lazily activating from the database when the
// coupon was never explicitly activated.
func (e *Engine) maxQuantity(ctx context.Context, couponID int64) (int64, error) {
	v, err := e.client.Get(ctx, keyMax(couponID)).Result()
	if err == nil {
		return strconv.ParseInt(v, 10, 64)
	}
	if err != redis.Nil {
		return 0, fmt.Errorf("read max for coupon %d: %w", couponID, err)
	}

	if err := e.Activate(ctx, couponID); err != nil {
		return 0, err
	}
	v, err = e.client.Get(ctx, keyMax(couponID)).Result()
	if err != nil {
		return 0, fmt.Errorf("read max for coupon %d after activation: %w", couponID, err)
	}
	return strconv.ParseInt(v, 10, 64)
}

// ClearSoldOut re-opens admission after the quantity cap was raised; call
// Activate first so the new cap is published. The user dedup set is left
// intact: users who already issued do not get to re-issue.
func (e *Engine) ClearSoldOut(ctx context.Context, couponID int64) error {
	if err := e.client.Del(ctx, keySoldOut(couponID)).Err(); err != nil {
		return fmt.Errorf("clear soldout for coupon %d: %w", couponID, err)
	}
	return nil
}

// QueueLen returns the number of admissions awaiting durable insertion.
func (e *Engine) QueueLen(ctx context.Context, couponID int64) (int64, error) {
	return e.client.ZCard(ctx, keyQueue(couponID)).Result()
}
