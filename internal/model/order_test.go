package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderPendingPayment, OrderPending, true},
		{OrderPendingPayment, OrderExpired, true},
		{OrderPending, OrderConfirmed, true},
		{OrderPending, OrderFailed, true},
		{OrderPending, OrderCancelled, true},
		{OrderConfirmed, OrderCompleted, true},
		{OrderConfirmed, OrderCancelled, true},

		{OrderPendingPayment, OrderConfirmed, false},
		{OrderPendingPayment, OrderCompleted, false},
		{OrderConfirmed, OrderFailed, false},
		{OrderCompleted, OrderCancelled, false},
		{OrderCancelled, OrderPending, false},
		{OrderFailed, OrderConfirmed, false},
		{OrderExpired, OrderPending, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestOrder_Transition_Replay(t *testing.T) {
	o := &Order{Status: OrderConfirmed}

	// Re-entering the current state is an idempotent no-op.
	require.NoError(t, o.Transition(OrderConfirmed))
	assert.Equal(t, OrderConfirmed, o.Status)
}

func TestOrder_Transition_Invalid(t *testing.T) {
	o := &Order{Status: OrderCompleted}

	err := o.Transition(OrderCancelled)
	require.ErrorIs(t, err, ErrInvalidOrderStatus)
	assert.Equal(t, OrderCompleted, o.Status, "status must not change on rejected transition")
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderCompleted, OrderCancelled, OrderFailed, OrderExpired} {
		assert.True(t, s.IsTerminal(), "%s", s)
	}
	for _, s := range []OrderStatus{OrderPendingPayment, OrderPending, OrderConfirmed} {
		assert.False(t, s.IsTerminal(), "%s", s)
	}
}

func TestOrder_Validate(t *testing.T) {
	o := &Order{
		ID:             1,
		TotalAmount:    40000,
		DiscountAmount: 5000,
		FinalAmount:    35000,
		Items: []OrderItem{
			{ProductID: 10, UnitPrice: 15000, Quantity: 2, GiftWrap: true, GiftWrapPrice: 10000, TotalPrice: 40000},
		},
	}
	require.NoError(t, o.Validate())

	o.FinalAmount = 30000
	assert.Error(t, o.Validate(), "final must equal total - discount")

	o.FinalAmount = 35000
	o.Items[0].TotalPrice = 39999
	assert.Error(t, o.Validate(), "item total must equal qty*unit + gift wrap")

	o.Items[0].TotalPrice = 40000
	o.DiscountAmount = 50000
	o.FinalAmount = -10000
	assert.Error(t, o.Validate())
}

func TestCoupon_Discount(t *testing.T) {
	fixed := &Coupon{DiscountType: DiscountFixed, DiscountValue: 5000, MinOrderAmount: 10000}
	assert.Equal(t, int64(5000), fixed.Discount(40000))
	assert.Equal(t, int64(0), fixed.Discount(9999), "below minimum order amount")

	clamped := &Coupon{DiscountType: DiscountFixed, DiscountValue: 5000}
	assert.Equal(t, int64(3000), clamped.Discount(3000), "discount never exceeds total")

	pct := &Coupon{DiscountType: DiscountPercentage, DiscountValue: 10}
	assert.Equal(t, int64(4000), pct.Discount(40000))
	assert.Equal(t, int64(0), pct.Discount(0))
}
