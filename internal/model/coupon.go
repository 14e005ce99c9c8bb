package model

import "time"

// DiscountType determines how a coupon reduces the order total.
type DiscountType string

const (
	DiscountFixed      DiscountType = "FIXED"
	DiscountPercentage DiscountType = "PERCENTAGE"
)

// UserCouponStatus is the state of an issued coupon held by a user.
type UserCouponStatus string

const (
	UserCouponIssued  UserCouponStatus = "ISSUED"
	UserCouponUsed    UserCouponStatus = "USED"
	UserCouponExpired UserCouponStatus = "EXPIRED"
)

// Coupon is the coupon definition aggregate. Invariant:
// 0 <= IssuedQuantity <= TotalQuantity.
type Coupon struct {
	ID             int64        `json:"id"`
	Code           string       `json:"code"`
	DiscountType   DiscountType `json:"discount_type"`
	DiscountValue  int64        `json:"discount_value"`
	MinOrderAmount int64        `json:"min_order_amount"`
	TotalQuantity  int64        `json:"total_quantity"`
	IssuedQuantity int64        `json:"issued_quantity"`
	ValidFrom      time.Time    `json:"valid_from"`
	ValidTo        time.Time    `json:"valid_to"`
	Version        int64        `json:"-"`
	CreatedAt      time.Time    `json:"-"`
}

// Discount returns the discount this coupon grants for an order total.
// Returns 0 when the minimum order amount is not met.
func (c *Coupon) Discount(orderTotal int64) int64 {
	if orderTotal < c.MinOrderAmount {
		return 0
	}
	switch c.DiscountType {
	case DiscountPercentage:
		d := orderTotal * c.DiscountValue / 100
		if d > orderTotal {
			d = orderTotal
		}
		return d
	default:
		if c.DiscountValue > orderTotal {
			return orderTotal
		}
		return c.DiscountValue
	}
}

// ValidAt reports whether the coupon can be used at t.
func (c *Coupon) ValidAt(t time.Time) bool {
	return !t.Before(c.ValidFrom) && !t.After(c.ValidTo)
}

// SoldOut reports whether the quantity cap has been reached.
func (c *Coupon) SoldOut() bool {
	return c.IssuedQuantity >= c.TotalQuantity
}

// UserCoupon links a coupon to its holder. At most one ISSUED row may exist
// per (UserID, CouponID); the unique index enforces this.
type UserCoupon struct {
	ID          int64            `json:"id"`
	UserID      int64            `json:"user_id"`
	CouponID    int64            `json:"coupon_id"`
	Status      UserCouponStatus `json:"status"`
	UsedOrderID *int64           `json:"used_order_id,omitempty"`
	IssuedAt    time.Time        `json:"issued_at"`
	UsedAt      *time.Time       `json:"used_at,omitempty"`
}

// IssueCouponResult is the outcome of a coupon issuance admission attempt.
type IssueCouponResult struct {
	Status        IssueStatus `json:"status"`
	QueuePosition int64       `json:"queuePosition,omitempty"`
}

// IssueStatus is the admission outcome for POST /api/v1/coupons/:id/issue.
type IssueStatus string

const (
	IssueAccepted      IssueStatus = "ACCEPTED"
	IssueAlreadyIssued IssueStatus = "ALREADY_ISSUED"
	IssueSoldOut       IssueStatus = "SOLD_OUT"
)
