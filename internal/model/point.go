package model

import "time"

// BalanceHistoryType classifies a balance movement.
type BalanceHistoryType string

const (
	BalanceEarn   BalanceHistoryType = "EARN"
	BalanceUse    BalanceHistoryType = "USE"
	BalanceExpire BalanceHistoryType = "EXPIRE"
	BalanceRefund BalanceHistoryType = "REFUND"
)

// Point amount rules (minor currency units).
const (
	MinChargeAmount = 1000
	MaxChargeAmount = 1_000_000
	MinUseAmount    = 100
	AmountStep      = 100
)

// UserBalance is the per-user point balance singleton.
type UserBalance struct {
	UserID    int64     `json:"user_id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"-"`
	UpdatedAt time.Time `json:"last_updated"`
}

// BalanceHistory is an immutable audit row. Invariant:
// BalanceAfter = BalanceBefore + Amount (Amount is signed).
type BalanceHistory struct {
	ID            int64              `json:"id"`
	UserID        int64              `json:"user_id"`
	Amount        int64              `json:"amount"`
	Type          BalanceHistoryType `json:"type"`
	BalanceBefore int64              `json:"balance_before"`
	BalanceAfter  int64              `json:"balance_after"`
	OrderID       *int64             `json:"order_id,omitempty"`
	Description   string             `json:"description"`
	CreatedAt     time.Time          `json:"created_at"`
}

// ChargePointRequest is the DTO for POST /api/v1/points/:userId/charge.
type ChargePointRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"omitempty,max=255"`
}

// DeductPointRequest is the DTO for POST /api/v1/points/:userId/deduct.
type DeductPointRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	OrderID     *int64 `json:"order_id" validate:"omitempty,gt=0"`
	Description string `json:"description" validate:"omitempty,max=255"`
}

// BalanceResponse is the DTO for GET /api/v1/users/me/balance.
type BalanceResponse struct {
	UserID      int64     `json:"userId"`
	Balance     int64     `json:"balance"`
	LastUpdated time.Time `json:"lastUpdated"`
}
