// Package saga wires the outbox events into the order choreography: each
// handler consumes the event types it cares about and delegates to a
// service. Delivery is at-least-once, so every handler leans on its
// service's idempotency (state compare, natural keys, or the dedup table).
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/event"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/outbox"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/service"
)

// OrderTransitioner moves orders through their lifecycle.
type OrderTransitioner interface {
	Confirm(ctx context.Context, orderID int64, correlationID string) error
	MarkFailed(ctx context.Context, orderID int64, reason string) error
	CancelWithReason(ctx context.Context, orderID int64, reason string) error
}

// PaymentProcessor runs the payment saga for an order.
type PaymentProcessor interface {
	Process(ctx context.Context, req *model.ProcessPaymentRequest) (*model.PaymentResponse, error)
}

// StockMover applies and reverts inventory movements.
type StockMover interface {
	DeductForOrder(ctx context.Context, eventID, orderID int64, items []event.OrderItemDelta, correlationID string) error
	RestoreForOrder(ctx context.Context, eventID, orderID int64, items []event.OrderItemDelta) error
}

// CouponMover consumes and restores user coupons for an order.
type CouponMover interface {
	UseForOrder(ctx context.Context, userID, orderID int64, couponIDs []int64, correlationID string) error
	RestoreForOrder(ctx context.Context, userID, orderID int64, couponIDs []int64, correlationID string) error
}

// PointRefunder returns points taken by a cancelled order's payment.
type PointRefunder interface {
	Refund(ctx context.Context, userID, amount, orderID int64, description string) error
}

// Fulfiller covers post-payment side effects.
type Fulfiller interface {
	CreateDelivery(ctx context.Context, orderID int64) error
	ClearCart(ctx context.Context, userID int64, productIDs []int64) error
}

// SaleRecorder feeds the statistics pipeline.
type SaleRecorder interface {
	RecordSale(ctx context.Context, productID int64, quantity int) error
}

// Notifier pushes realtime notifications to connected users.
type Notifier interface {
	Publish(ctx context.Context, userID int64, kind string, data any) error
}

func unmarshal[T any](e model.OutboxEvent) (*T, error) {
	env, err := event.Open(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("open %s envelope (event %d): %w", e.EventType, e.ID, err)
	}
	var p T
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload (event %d): %w", e.EventType, e.ID, err)
	}
	return &p, nil
}

// staleTransition reports a transition rejected because the order already
// moved on. The event is outdated, not failed; retrying cannot help.
func staleTransition(err error) bool {
	return errors.Is(err, service.ErrInvalidOrderStatus)
}

// OrderHandler settles the order's final status from payment and inventory
// outcomes. It runs before every other handler of the same events so the
// status is current when they read the order.
type OrderHandler struct {
	orders OrderTransitioner
}

func NewOrderHandler(orders OrderTransitioner) *OrderHandler {
	return &OrderHandler{orders: orders}
}

func (h *OrderHandler) Name() string { return "order-status" }
func (h *OrderHandler) SupportedEventTypes() []string {
	return []string{event.TypePaymentCompleted, event.TypePaymentFailed, event.TypeInventoryInsufficient}
}
func (h *OrderHandler) Priority() int       { return 1 }
func (h *OrderHandler) SupportsBatch() bool { return false }

func (h *OrderHandler) Handle(ctx context.Context, e model.OutboxEvent) error {
	var err error
	switch e.EventType {
	case event.TypePaymentCompleted:
		var p *event.PaymentCompletedPayload
		if p, err = unmarshal[event.PaymentCompletedPayload](e); err != nil {
			return err
		}
		err = h.orders.Confirm(ctx, p.OrderID, p.CorrelationID)
	case event.TypePaymentFailed:
		var p *event.PaymentFailedPayload
		if p, err = unmarshal[event.PaymentFailedPayload](e); err != nil {
			return err
		}
		err = h.orders.MarkFailed(ctx, p.OrderID, p.Reason)
	case event.TypeInventoryInsufficient:
		var p *event.InventoryInsufficientPayload
		if p, err = unmarshal[event.InventoryInsufficientPayload](e); err != nil {
			return err
		}
		reason := fmt.Sprintf("상품 %d 재고 부족 (요청 %d, 가용 %d)", p.ProductID, p.Requested, p.Available)
		err = h.orders.CancelWithReason(ctx, p.OrderID, reason)
	}
	if staleTransition(err) {
		log.Warn().Int64("event_id", e.ID).Str("event_type", e.EventType).Err(err).
			Msg("order already moved on, dropping stale transition")
		return nil
	}
	return err
}

func (h *OrderHandler) HandleBatch(ctx context.Context, events []model.OutboxEvent) error {
	return outbox.HandleBatchWith(ctx, h, events)
}

// PaymentHandler starts the payment saga for orders created with a tender
// split. Orders without one wait for an explicit payment request.
type PaymentHandler struct {
	payments PaymentProcessor
	orders   OrderTransitioner
}

func NewPaymentHandler(payments PaymentProcessor, orders OrderTransitioner) *PaymentHandler {
	return &PaymentHandler{payments: payments, orders: orders}
}

func (h *PaymentHandler) Name() string                  { return "payment-saga" }
func (h *PaymentHandler) SupportedEventTypes() []string { return []string{event.TypeOrderCreated} }
func (h *PaymentHandler) Priority() int                 { return 1 }
func (h *PaymentHandler) SupportsBatch() bool           { return false }

func (h *PaymentHandler) Handle(ctx context.Context, e model.OutboxEvent) error {
	p, err := unmarshal[event.OrderCreatedPayload](e)
	if err != nil {
		return err
	}
	if p.Payment == nil {
		return nil
	}

	req := &model.ProcessPaymentRequest{
		OrderID:     p.OrderID,
		UserID:      p.UserID,
		PointAmount: p.Payment.PointAmount,
		PgAmount:    p.Payment.PgAmount,
	}
	switch {
	case p.Payment.PointAmount > 0 && p.Payment.PgAmount > 0:
		req.PaymentMethod = "MIXED"
	case p.Payment.PgAmount > 0:
		req.PaymentMethod = "GATEWAY"
	default:
		req.PaymentMethod = "POINT"
	}
	if p.Payment.PgAmount > 0 {
		req.PgRequest = &model.GatewayCard{
			Provider:   p.Payment.Provider,
			CardType:   p.Payment.CardType,
			CardNumber: p.Payment.CardNumber,
		}
	}

	_, err = h.payments.Process(ctx, req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrAlreadyPaidOrder):
		// A previous delivery settled the payment before crashing.
		return nil
	case errors.Is(err, service.ErrGatewayFailed):
		// Process already published PaymentFailed.
		return nil
	}

	var derr *service.DomainError
	if errors.As(err, &derr) {
		// Domain rejections (insufficient balance, daily limit, amount
		// mismatch) are permanent for this order; retrying the event
		// cannot change the outcome.
		log.Warn().Int64("order_id", p.OrderID).Str("code", derr.Code).
			Msg("payment rejected, failing order")
		if failErr := h.orders.MarkFailed(ctx, p.OrderID, derr.Message); failErr != nil && !staleTransition(failErr) {
			return failErr
		}
		return nil
	}
	return err
}

func (h *PaymentHandler) HandleBatch(ctx context.Context, events []model.OutboxEvent) error {
	return outbox.HandleBatchWith(ctx, h, events)
}

// InventoryHandler moves stock after payment and back after cancellation.
type InventoryHandler struct {
	stocks StockMover
}

func NewInventoryHandler(stocks StockMover) *InventoryHandler {
	return &InventoryHandler{stocks: stocks}
}

func (h *InventoryHandler) Name() string { return "inventory" }
func (h *InventoryHandler) SupportedEventTypes() []string {
	return []string{event.TypePaymentCompleted, event.TypeOrderCancelled}
}
func (h *InventoryHandler) Priority() int       { return 2 }
func (h *InventoryHandler) SupportsBatch() bool { return false }

func (h *InventoryHandler) Handle(ctx context.Context, e model.OutboxEvent) error {
	switch e.EventType {
	case event.TypePaymentCompleted:
		p, err := unmarshal[event.PaymentCompletedPayload](e)
		if err != nil {
			return err
		}
		err = h.stocks.DeductForOrder(ctx, e.ID, p.OrderID, p.Items, p.CorrelationID)
		if errors.Is(err, service.ErrInsufficientInventory) {
			// The shortfall event is already on its way to cancel the order.
			return nil
		}
		return err
	case event.TypeOrderCancelled:
		p, err := unmarshal[event.OrderCancelledPayload](e)
		if err != nil {
			return err
		}
		if len(p.Items) == 0 {
			return nil
		}
		return h.stocks.RestoreForOrder(ctx, e.ID, p.OrderID, p.Items)
	}
	return nil
}

func (h *InventoryHandler) HandleBatch(ctx context.Context, events []model.OutboxEvent) error {
	return outbox.HandleBatchWith(ctx, h, events)
}

// CouponHandler consumes coupons after payment and restores them after
// cancellation.
type CouponHandler struct {
	coupons CouponMover
}

func NewCouponHandler(coupons CouponMover) *CouponHandler {
	return &CouponHandler{coupons: coupons}
}

func (h *CouponHandler) Name() string { return "coupon" }
func (h *CouponHandler) SupportedEventTypes() []string {
	return []string{event.TypePaymentCompleted, event.TypeOrderCancelled}
}
func (h *CouponHandler) Priority() int       { return 3 }
func (h *CouponHandler) SupportsBatch() bool { return false }

func (h *CouponHandler) Handle(ctx context.Context, e model.OutboxEvent) error {
	switch e.EventType {
	case event.TypePaymentCompleted:
		p, err := unmarshal[event.PaymentCompletedPayload](e)
		if err != nil {
			return err
		}
		if len(p.CouponIDs) == 0 {
			return nil
		}
		return h.coupons.UseForOrder(ctx, p.UserID, p.OrderID, p.CouponIDs, p.CorrelationID)
	case event.TypeOrderCancelled:
		p, err := unmarshal[event.OrderCancelledPayload](e)
		if err != nil {
			return err
		}
		if len(p.CouponIDs) == 0 {
			return nil
		}
		return h.coupons.RestoreForOrder(ctx, p.UserID, p.OrderID, p.CouponIDs, p.CorrelationID)
	}
	return nil
}

func (h *CouponHandler) HandleBatch(ctx context.Context, events []model.OutboxEvent) error {
	return outbox.HandleBatchWith(ctx, h, events)
}

// PointHandler refunds the point portion of a cancelled order's payment.
type PointHandler struct {
	points PointRefunder
}

func NewPointHandler(points PointRefunder) *PointHandler {
	return &PointHandler{points: points}
}

func (h *PointHandler) Name() string                  { return "point-refund" }
func (h *PointHandler) SupportedEventTypes() []string { return []string{event.TypeOrderCancelled} }
func (h *PointHandler) Priority() int                 { return 2 }
func (h *PointHandler) SupportsBatch() bool           { return false }

func (h *PointHandler) Handle(ctx context.Context, e model.OutboxEvent) error {
	p, err := unmarshal[event.OrderCancelledPayload](e)
	if err != nil {
		return err
	}
	if p.RefundPoints <= 0 {
		return nil
	}
	return h.points.Refund(ctx, p.UserID, p.RefundPoints, p.OrderID, "주문 취소 환불")
}

func (h *PointHandler) HandleBatch(ctx context.Context, events []model.OutboxEvent) error {
	return outbox.HandleBatchWith(ctx, h, events)
}

// FulfillmentHandler creates the delivery and clears purchased cart lines
// once payment settled.
type FulfillmentHandler struct {
	fulfillment Fulfiller
}

func NewFulfillmentHandler(fulfillment Fulfiller) *FulfillmentHandler {
	return &FulfillmentHandler{fulfillment: fulfillment}
}

func (h *FulfillmentHandler) Name() string { return "fulfillment" }
func (h *FulfillmentHandler) SupportedEventTypes() []string {
	return []string{event.TypePaymentCompleted}
}
func (h *FulfillmentHandler) Priority() int       { return 4 }
func (h *FulfillmentHandler) SupportsBatch() bool { return false }

func (h *FulfillmentHandler) Handle(ctx context.Context, e model.OutboxEvent) error {
	p, err := unmarshal[event.PaymentCompletedPayload](e)
	if err != nil {
		return err
	}
	if err := h.fulfillment.CreateDelivery(ctx, p.OrderID); err != nil {
		return err
	}
	productIDs := make([]int64, 0, len(p.Items))
	for _, it := range p.Items {
		productIDs = append(productIDs, it.ProductID)
	}
	return h.fulfillment.ClearCart(ctx, p.UserID, productIDs)
}

func (h *FulfillmentHandler) HandleBatch(ctx context.Context, events []model.OutboxEvent) error {
	return outbox.HandleBatchWith(ctx, h, events)
}

// StatsHandler records confirmed sales into the statistics pipeline. It is
// the one true batch consumer: a dispatch cycle's confirmations land in one
// pass.
type StatsHandler struct {
	stats SaleRecorder
}

func NewStatsHandler(stats SaleRecorder) *StatsHandler {
	return &StatsHandler{stats: stats}
}

func (h *StatsHandler) Name() string                  { return "stats" }
func (h *StatsHandler) SupportedEventTypes() []string { return []string{event.TypeOrderConfirmed} }
func (h *StatsHandler) Priority() int                 { return 5 }
func (h *StatsHandler) SupportsBatch() bool           { return true }

func (h *StatsHandler) Handle(ctx context.Context, e model.OutboxEvent) error {
	p, err := unmarshal[event.OrderConfirmedPayload](e)
	if err != nil {
		return err
	}
	for _, it := range p.Items {
		if err := h.stats.RecordSale(ctx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (h *StatsHandler) HandleBatch(ctx context.Context, events []model.OutboxEvent) error {
	return outbox.HandleBatchWith(ctx, h, events)
}

// NotifyHandler pushes realtime notifications. Delivery is best effort: a
// failed push is logged and never blocks the saga.
type NotifyHandler struct {
	hub Notifier
}

func NewNotifyHandler(hub Notifier) *NotifyHandler {
	return &NotifyHandler{hub: hub}
}

func (h *NotifyHandler) Name() string { return "notify" }
func (h *NotifyHandler) SupportedEventTypes() []string {
	return []string{event.TypePaymentCompleted, event.TypeOrderConfirmed, event.TypeCouponIssued}
}
func (h *NotifyHandler) Priority() int       { return 6 }
func (h *NotifyHandler) SupportsBatch() bool { return false }

func (h *NotifyHandler) Handle(ctx context.Context, e model.OutboxEvent) error {
	var userID int64
	var kind string
	var data any

	switch e.EventType {
	case event.TypePaymentCompleted:
		p, err := unmarshal[event.PaymentCompletedPayload](e)
		if err != nil {
			return err
		}
		userID, kind, data = p.UserID, "payment-completed", p
	case event.TypeOrderConfirmed:
		p, err := unmarshal[event.OrderConfirmedPayload](e)
		if err != nil {
			return err
		}
		userID, kind, data = p.UserID, "order-completed", p
	case event.TypeCouponIssued:
		p, err := unmarshal[event.CouponIssuedPayload](e)
		if err != nil {
			return err
		}
		userID, kind, data = p.UserID, "coupon-issued", p
	default:
		return nil
	}

	if err := h.hub.Publish(ctx, userID, kind, data); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Str("kind", kind).Msg("notification push failed")
	}
	return nil
}

func (h *NotifyHandler) HandleBatch(ctx context.Context, events []model.OutboxEvent) error {
	return outbox.HandleBatchWith(ctx, h, events)
}
