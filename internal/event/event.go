// Package event defines the domain event types carried by the outbox, their
// JSON payload shapes, and the CloudEvents-style envelope used when events
// cross the process boundary.
package event

// Event type names. Per-aggregate ordering is guaranteed by outbox id order;
// no ordering is guaranteed across aggregates.
const (
	TypeOrderCreated          = "OrderCreated"
	TypeOrderConfirmed        = "OrderConfirmed"
	TypeOrderCancelled        = "OrderCancelled"
	TypePaymentCompleted      = "PaymentCompleted"
	TypePaymentFailed         = "PaymentFailed"
	TypeStockDeducted         = "StockDeducted"
	TypeInventoryInsufficient = "InventoryInsufficient"
	TypeCouponUsed            = "CouponUsed"
	TypeCouponRestored        = "CouponRestored"
	TypeCouponIssued          = "CouponIssued"
)

// Aggregate type names used in outbox rows.
const (
	AggregateOrder     = "ORDER"
	AggregatePayment   = "PAYMENT"
	AggregateInventory = "INVENTORY"
	AggregateCoupon    = "COUPON"
)

// OrderCreatedPayload triggers the payment saga. Payment is set when the
// client supplied a tender split at order creation; without it the order
// waits for an explicit payment request.
type OrderCreatedPayload struct {
	OrderID       int64          `json:"orderId"`
	UserID        int64          `json:"userId"`
	FinalAmount   int64          `json:"finalAmount"`
	Payment       *PaymentIntent `json:"payment,omitempty"`
	CorrelationID string         `json:"correlationId"`
}

// PaymentIntent is the tender split attached to an order at creation.
type PaymentIntent struct {
	PointAmount int64  `json:"pointAmount"`
	PgAmount    int64  `json:"pgAmount"`
	Provider    string `json:"provider,omitempty"`
	CardType    string `json:"cardType,omitempty"`
	CardNumber  string `json:"cardNumber,omitempty"`
}

// OrderCancelledPayload drives stock restore and point refund compensations.
type OrderCancelledPayload struct {
	OrderID       int64            `json:"orderId"`
	UserID        int64            `json:"userId"`
	Reason        string           `json:"reason,omitempty"`
	RefundPoints  int64            `json:"refundPoints"`
	Items         []OrderItemDelta `json:"items"`
	CouponIDs     []int64          `json:"couponIds,omitempty"`
	CorrelationID string           `json:"correlationId"`
}

// OrderConfirmedPayload feeds analytics.
type OrderConfirmedPayload struct {
	OrderID       int64            `json:"orderId"`
	UserID        int64            `json:"userId"`
	Items         []OrderItemDelta `json:"items"`
	CorrelationID string           `json:"correlationId"`
}

// OrderItemDelta is the per-product quantity a downstream handler applies.
type OrderItemDelta struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// PaymentCompletedPayload fans out to order/inventory/coupon/delivery/cart.
type PaymentCompletedPayload struct {
	OrderID       int64            `json:"orderId"`
	UserID        int64            `json:"userId"`
	Amount        int64            `json:"amount"`
	Method        string           `json:"method"`
	ExternalTxnID string           `json:"externalTxnId,omitempty"`
	Items         []OrderItemDelta `json:"items"`
	CouponIDs     []int64          `json:"couponIds,omitempty"`
	CorrelationID string           `json:"correlationId"`
}

// PaymentFailedPayload moves the order to FAILED.
type PaymentFailedPayload struct {
	OrderID       int64  `json:"orderId"`
	UserID        int64  `json:"userId"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlationId"`
}

// StockDeductedPayload is published after a successful inventory deduction.
type StockDeductedPayload struct {
	OrderID       int64            `json:"orderId"`
	Items         []OrderItemDelta `json:"items"`
	CorrelationID string           `json:"correlationId"`
}

// InventoryInsufficientPayload cancels the order with a reason.
type InventoryInsufficientPayload struct {
	OrderID       int64  `json:"orderId"`
	ProductID     int64  `json:"productId"`
	Requested     int64  `json:"requested"`
	Available     int64  `json:"available"`
	CorrelationID string `json:"correlationId"`
}

// CouponUsedPayload marks user coupons as consumed by an order.
type CouponUsedPayload struct {
	OrderID       int64   `json:"orderId"`
	UserID        int64   `json:"userId"`
	CouponIDs     []int64 `json:"couponIds"`
	CorrelationID string  `json:"correlationId"`
}

// CouponRestoredPayload reverts coupon consumption on cancellation.
type CouponRestoredPayload struct {
	OrderID       int64   `json:"orderId"`
	UserID        int64   `json:"userId"`
	CouponIDs     []int64 `json:"couponIds"`
	CorrelationID string  `json:"correlationId"`
}

// CouponIssuedPayload notifies a user their queued issuance was persisted.
type CouponIssuedPayload struct {
	CouponID      int64  `json:"couponId"`
	UserID        int64  `json:"userId"`
	CorrelationID string `json:"correlationId"`
}
