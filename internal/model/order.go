package model

import (
	"fmt"
	"time"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderPending        OrderStatus = "PENDING"
	OrderConfirmed      OrderStatus = "CONFIRMED"
	OrderCompleted      OrderStatus = "COMPLETED"
	OrderCancelled      OrderStatus = "CANCELLED"
	OrderFailed         OrderStatus = "FAILED"
	OrderExpired        OrderStatus = "EXPIRED"
)

// orderTransitions is the allowed-transition DAG. Any edge not listed here
// is rejected with ErrInvalidOrderStatus by Order.Transition.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPendingPayment: {OrderPending, OrderExpired},
	OrderPending:        {OrderConfirmed, OrderFailed, OrderCancelled},
	OrderConfirmed:      {OrderCompleted, OrderCancelled},
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderCompleted, OrderCancelled, OrderFailed, OrderExpired:
		return true
	}
	return false
}

// CanTransition reports whether s -> target is an edge of the lifecycle DAG.
func (s OrderStatus) CanTransition(target OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Order is the order aggregate root.
type Order struct {
	ID             int64       `json:"id"`
	OrderNumber    string      `json:"order_number"`
	UserID         int64       `json:"user_id"`
	TotalAmount    int64       `json:"total_amount"`
	DiscountAmount int64       `json:"discount_amount"`
	FinalAmount    int64       `json:"final_amount"`
	UsedCouponIDs  []int64     `json:"used_coupon_ids"`
	Status         OrderStatus `json:"status"`
	FailureReason  string      `json:"failure_reason,omitempty"`
	Items          []OrderItem `json:"items"`
	Version        int64       `json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// OrderItem is a single line of an order (product-oriented shape).
type OrderItem struct {
	ID            int64  `json:"id"`
	OrderID       int64  `json:"order_id"`
	ProductID     int64  `json:"product_id"`
	ProductName   string `json:"product_name"`
	UnitPrice     int64  `json:"unit_price"`
	Quantity      int    `json:"quantity"`
	GiftWrap      bool   `json:"gift_wrap"`
	GiftWrapPrice int64  `json:"gift_wrap_price"`
	TotalPrice    int64  `json:"total_price"`
}

// ComputeTotal returns quantity*unitPrice + giftWrapPrice.
func (i OrderItem) ComputeTotal() int64 {
	return int64(i.Quantity)*i.UnitPrice + i.GiftWrapPrice
}

// Transition moves the order to target, enforcing the lifecycle DAG.
// Re-entering the current state is treated as an idempotent replay.
func (o *Order) Transition(target OrderStatus) error {
	if o.Status == target {
		return nil
	}
	if !o.Status.CanTransition(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidOrderStatus, o.Status, target)
	}
	o.Status = target
	return nil
}

// Validate checks the money invariants of the aggregate.
func (o *Order) Validate() error {
	if o.TotalAmount < 0 || o.DiscountAmount < 0 || o.FinalAmount < 0 {
		return fmt.Errorf("order %d: negative amount", o.ID)
	}
	if o.DiscountAmount > o.TotalAmount {
		return fmt.Errorf("order %d: discount %d exceeds total %d", o.ID, o.DiscountAmount, o.TotalAmount)
	}
	if o.FinalAmount != o.TotalAmount-o.DiscountAmount {
		return fmt.Errorf("order %d: final %d != total %d - discount %d",
			o.ID, o.FinalAmount, o.TotalAmount, o.DiscountAmount)
	}
	for _, item := range o.Items {
		if item.TotalPrice != item.ComputeTotal() {
			return fmt.Errorf("order %d item %d: total price mismatch", o.ID, item.ProductID)
		}
	}
	return nil
}

// CreateOrderRequest is the DTO for POST /api/v1/orders. Payment is
// optional; when present the order is paid asynchronously with the given
// tender split once the creation event is dispatched.
type CreateOrderRequest struct {
	UserID    int64                    `json:"user_id" validate:"required,gt=0"`
	Items     []CreateOrderItemRequest `json:"items" validate:"required,min=1,dive"`
	CouponIDs []int64                  `json:"coupon_ids" validate:"omitempty,dive,gt=0"`
	Payment   *OrderPaymentRequest     `json:"payment" validate:"omitempty"`
}

// OrderPaymentRequest is the tender split supplied at order creation.
type OrderPaymentRequest struct {
	PointAmount int64        `json:"point_amount" validate:"gte=0"`
	PgAmount    int64        `json:"pg_amount" validate:"gte=0"`
	Card        *GatewayCard `json:"card"`
}

// CreateOrderItemRequest is one requested order line.
type CreateOrderItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gte=1"`
	GiftWrap  bool  `json:"gift_wrap"`
}
