package model

import "time"

// PaymentMethod is how an order was paid.
type PaymentMethod string

const (
	PaymentMethodCard    PaymentMethod = "CARD"
	PaymentMethodBank    PaymentMethod = "BANK_TRANSFER"
	PaymentMethodBalance PaymentMethod = "BALANCE"
	PaymentMethodMixed   PaymentMethod = "MIXED"
)

// PaymentStatus is the state of a payment attempt.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
)

// Payment records one settled (or failed) payment for an order.
type Payment struct {
	ID            int64         `json:"id"`
	OrderID       int64         `json:"order_id"`
	UserID        int64         `json:"user_id"`
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	ExternalTxnID string        `json:"external_txn_id,omitempty"`
	Amount        int64         `json:"amount"`
	PointAmount   int64         `json:"point_amount"`
	GatewayAmount int64         `json:"gateway_amount"`
	CreatedAt     time.Time     `json:"created_at"`
}

// GatewayCard describes the card details forwarded to the external gateway.
// Whitespace-only values would pass max-length checks but break the gateway,
// hence notblank.
type GatewayCard struct {
	Provider   string `json:"provider" validate:"omitempty,notblank,max=32"`
	CardType   string `json:"card_type" validate:"omitempty,notblank,max=32"`
	CardNumber string `json:"card_number" validate:"omitempty,notblank,max=32"`
}

// ProcessPaymentRequest is the DTO for POST /api/v1/payments.
type ProcessPaymentRequest struct {
	OrderID       int64        `json:"orderId" validate:"required,gt=0"`
	UserID        int64        `json:"userId" validate:"required,gt=0"`
	PaymentMethod string       `json:"paymentMethod" validate:"required,oneof=POINT GATEWAY MIXED"`
	PointAmount   int64        `json:"pointAmount" validate:"gte=0"`
	PgAmount      int64        `json:"pgAmount" validate:"gte=0"`
	PgRequest     *GatewayCard `json:"pgPaymentRequest"`
}

// PaymentResponse is the DTO returned by POST /api/v1/payments.
type PaymentResponse struct {
	PaymentID       int64         `json:"paymentId"`
	OrderID         int64         `json:"orderId"`
	TotalAmount     int64         `json:"totalAmount"`
	PointAmount     int64         `json:"pointAmount"`
	PgAmount        int64         `json:"pgAmount"`
	Status          PaymentStatus `json:"status"`
	PaidAt          time.Time     `json:"paidAt"`
	PgTransactionID string        `json:"pgTransactionId,omitempty"`
	BalanceAfter    int64         `json:"balanceAfter"`
}
