package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/event"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// DB combines querying with transaction start; *pgxpool.Pool implements both.
type DB interface {
	database.TxQuerier
	database.TxBeginner
}

// OrderStore defines the order data access the service needs.
type OrderStore interface {
	Insert(ctx context.Context, tx database.TxQuerier, o *model.Order) error
	GetByID(ctx context.Context, q database.TxQuerier, orderID int64) (*model.Order, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, orderID int64) (*model.Order, error)
	TransitionStatus(ctx context.Context, tx database.TxQuerier, orderID int64, from, to model.OrderStatus, reason string) error
	ListStalePendingPayment(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
}

// CouponReader is the coupon data the order flow reads at creation time.
type CouponReader interface {
	GetByID(ctx context.Context, q database.TxQuerier, couponID int64) (*model.Coupon, error)
	GetActiveUserCoupon(ctx context.Context, q database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error)
}

// ProductCatalog is the read-only catalog used for order pricing.
type ProductCatalog interface {
	ListByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error)
}

// PaymentReader looks up settled payments (for refund amounts on cancel).
type PaymentReader interface {
	GetCompletedByOrder(ctx context.Context, q database.TxQuerier, orderID int64) (*model.Payment, error)
}

// EventWriter appends domain events inside the caller's transaction.
type EventWriter interface {
	Append(ctx context.Context, tx database.TxQuerier, eventType, aggregateType, aggregateID string, payload any) (int64, error)
}

// OrderService owns the order lifecycle: creation with coupon discounts,
// the status DAG transitions driven by saga events, user cancellation with
// compensating events, and expiry of stale unpaid orders.
type OrderService struct {
	db       DB
	orders   OrderStore
	coupons  CouponReader
	catalog  ProductCatalog
	payments PaymentReader
	events   EventWriter
}

// NewOrderService creates an OrderService.
func NewOrderService(db DB, orders OrderStore, coupons CouponReader, catalog ProductCatalog, payments PaymentReader, events EventWriter) *OrderService {
	return &OrderService{db: db, orders: orders, coupons: coupons, catalog: catalog, payments: payments, events: events}
}

// newOrderNumber builds a human-scannable unique order number.
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

// Create prices the requested items, applies coupon discounts, persists the
// aggregate in PENDING_PAYMENT, and co-commits the OrderCreated event.
func (s *OrderService) Create(ctx context.Context, req *model.CreateOrderRequest) (*model.Order, error) {
	now := time.Now()

	ids := make([]int64, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.catalog.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var total int64
	items := make([]model.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, ErrProductNotFound.WithData(map[string]any{"productId": it.ProductID})
		}
		item := model.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    it.Quantity,
			GiftWrap:    it.GiftWrap,
		}
		if it.GiftWrap {
			item.GiftWrapPrice = p.GiftWrapPrice
		}
		item.TotalPrice = item.ComputeTotal()
		total += item.TotalPrice
		items = append(items, item)
	}

	discount, err := s.couponDiscount(ctx, req.UserID, req.CouponIDs, total, now)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		OrderNumber:    newOrderNumber(now),
		UserID:         req.UserID,
		TotalAmount:    total,
		DiscountAmount: discount,
		FinalAmount:    total - discount,
		UsedCouponIDs:  req.CouponIDs,
		Status:         model.OrderPendingPayment,
		Items:          items,
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	var intent *event.PaymentIntent
	if req.Payment != nil {
		if req.Payment.PointAmount+req.Payment.PgAmount != order.FinalAmount {
			return nil, ErrAmountMismatch.WithData(map[string]any{
				"finalAmount": order.FinalAmount,
				"pointAmount": req.Payment.PointAmount,
				"pgAmount":    req.Payment.PgAmount,
			})
		}
		intent = &event.PaymentIntent{
			PointAmount: req.Payment.PointAmount,
			PgAmount:    req.Payment.PgAmount,
		}
		if req.Payment.Card != nil {
			intent.Provider = req.Payment.Card.Provider
			intent.CardType = req.Payment.Card.CardType
			intent.CardNumber = req.Payment.Card.CardNumber
		}
	}

	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := s.orders.Insert(ctx, tx, order); err != nil {
			return err
		}
		_, err := s.events.Append(ctx, tx, event.TypeOrderCreated, event.AggregateOrder,
			aggID(order.ID), event.OrderCreatedPayload{
				OrderID:       order.ID,
				UserID:        order.UserID,
				FinalAmount:   order.FinalAmount,
				Payment:       intent,
				CorrelationID: order.OrderNumber,
			})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("order_id", order.ID).
		Str("order_number", order.OrderNumber).
		Int64("final_amount", order.FinalAmount).
		Msg("order created")
	return order, nil
}

// couponDiscount validates each coupon (exists, held by the user as ISSUED,
// within validity window) and sums the discounts. Coupons apply in the order
// given, each against the amount remaining after the previous one.
func (s *OrderService) couponDiscount(ctx context.Context, userID int64, couponIDs []int64, total int64, now time.Time) (int64, error) {
	var discount int64
	remaining := total
	for _, id := range couponIDs {
		c, err := s.coupons.GetByID(ctx, s.db, id)
		if err != nil {
			return 0, err
		}
		if c == nil {
			return 0, ErrCouponNotFound.WithData(map[string]any{"couponId": id})
		}
		held, err := s.coupons.GetActiveUserCoupon(ctx, s.db, userID, id)
		if err != nil {
			return 0, err
		}
		if held == nil || !c.ValidAt(now) {
			return 0, ErrCouponNotUsable.WithData(map[string]any{"couponId": id})
		}

		d := c.Discount(remaining)
		discount += d
		remaining -= d
	}
	return discount, nil
}

// GetByID loads the full order aggregate.
func (s *OrderService) GetByID(ctx context.Context, orderID int64) (*model.Order, error) {
	o, err := s.orders.GetByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// ConfirmInTx moves the order PENDING -> CONFIRMED inside the caller's
// transaction and appends the OrderConfirmed analytics event. An order
// already in CONFIRMED is a replay and returns nil without a second event.
func (s *OrderService) ConfirmInTx(ctx context.Context, tx database.TxQuerier, orderID int64, correlationID string) error {
	o, err := s.orders.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrOrderNotFound
	}
	if o.Status == model.OrderConfirmed {
		return nil
	}
	if !o.Status.CanTransition(model.OrderConfirmed) {
		return ErrInvalidOrderStatus.WithData(map[string]any{"from": o.Status, "to": model.OrderConfirmed})
	}
	if err := s.orders.TransitionStatus(ctx, tx, orderID, o.Status, model.OrderConfirmed, ""); err != nil {
		return translateVersionConflict(err)
	}

	deltas := itemDeltas(o.Items)
	_, err = s.events.Append(ctx, tx, event.TypeOrderConfirmed, event.AggregateOrder,
		aggID(orderID), event.OrderConfirmedPayload{
			OrderID:       orderID,
			UserID:        o.UserID,
			Items:         deltas,
			CorrelationID: correlationID,
		})
	return err
}

// Confirm is the standalone-transaction form of ConfirmInTx.
func (s *OrderService) Confirm(ctx context.Context, orderID int64, correlationID string) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return s.ConfirmInTx(ctx, tx, orderID, correlationID)
	})
}

// MarkFailed moves the order PENDING -> FAILED with a reason. Replays are
// no-ops.
func (s *OrderService) MarkFailed(ctx context.Context, orderID int64, reason string) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return ErrOrderNotFound
		}
		if o.Status == model.OrderFailed {
			return nil
		}
		if !o.Status.CanTransition(model.OrderFailed) {
			return ErrInvalidOrderStatus.WithData(map[string]any{"from": o.Status, "to": model.OrderFailed})
		}
		return translateVersionConflict(
			s.orders.TransitionStatus(ctx, tx, orderID, o.Status, model.OrderFailed, reason))
	})
}

// Cancel cancels the user's own order. Allowed from PENDING and CONFIRMED;
// cancelling an already-cancelled order is an idempotent no-op. The
// co-committed OrderCancelled event drives stock restore, point refund, and
// coupon restore downstream.
func (s *OrderService) Cancel(ctx context.Context, orderID, userID int64, reason string) (*model.Order, error) {
	var cancelled *model.Order
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o == nil || o.UserID != userID {
			return ErrOrderNotFound
		}
		cancelled = o
		return s.cancelInTx(ctx, tx, o, reason)
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// CancelWithReason cancels an order on behalf of the system (inventory
// shortfall during fulfillment). Same semantics as Cancel minus the
// ownership check.
func (s *OrderService) CancelWithReason(ctx context.Context, orderID int64, reason string) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return ErrOrderNotFound
		}
		return s.cancelInTx(ctx, tx, o, reason)
	})
}

func (s *OrderService) cancelInTx(ctx context.Context, tx pgx.Tx, o *model.Order, reason string) error {
	if o.Status == model.OrderCancelled {
		return nil
	}
	if !o.Status.CanTransition(model.OrderCancelled) {
		return ErrInvalidOrderStatus.WithData(map[string]any{"from": o.Status, "to": model.OrderCancelled})
	}
	if err := s.orders.TransitionStatus(ctx, tx, o.ID, o.Status, model.OrderCancelled, reason); err != nil {
		return translateVersionConflict(err)
	}

	// Points, stock, and coupons only moved if the order got past payment;
	// a cancel from an earlier status has nothing to compensate. The refund
	// amount is whatever the settled payment took from the balance.
	var refundPoints int64
	var restoreItems []event.OrderItemDelta
	var restoreCoupons []int64
	if o.Status == model.OrderConfirmed {
		restoreItems = itemDeltas(o.Items)
		restoreCoupons = o.UsedCouponIDs
		p, err := s.payments.GetCompletedByOrder(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		if p != nil {
			refundPoints = p.PointAmount
		}
	}

	_, err := s.events.Append(ctx, tx, event.TypeOrderCancelled, event.AggregateOrder,
		aggID(o.ID), event.OrderCancelledPayload{
			OrderID:       o.ID,
			UserID:        o.UserID,
			Reason:        reason,
			RefundPoints:  refundPoints,
			Items:         restoreItems,
			CouponIDs:     restoreCoupons,
			CorrelationID: o.OrderNumber,
		})
	if err != nil {
		return err
	}

	log.Info().
		Int64("order_id", o.ID).
		Str("reason", reason).
		Int64("refund_points", refundPoints).
		Msg("order cancelled")
	return nil
}

// ExpireStale moves orders stuck in PENDING_PAYMENT past maxAge to EXPIRED.
// Returns how many orders were expired this pass.
func (s *OrderService) ExpireStale(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	ids, err := s.orders.ListStalePendingPayment(ctx, time.Now().Add(-maxAge), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
			return s.orders.TransitionStatus(ctx, tx, id,
				model.OrderPendingPayment, model.OrderExpired, "payment window elapsed")
		})
		if err != nil {
			// A payment may have landed between the list and the update.
			if errors.Is(err, model.ErrVersionConflict) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func itemDeltas(items []model.OrderItem) []event.OrderItemDelta {
	deltas := make([]event.OrderItemDelta, 0, len(items))
	for _, it := range items {
		deltas = append(deltas, event.OrderItemDelta{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return deltas
}

func aggID(id int64) string {
	return fmt.Sprintf("%d", id)
}
