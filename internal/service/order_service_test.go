package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/event"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
)

func testCatalog() *mockCatalog {
	return &mockCatalog{products: map[int64]model.Product{
		10: {ID: 10, Name: "상품A", Price: 20_000, GiftWrapPrice: 1000},
		11: {ID: 11, Name: "상품B", Price: 5000},
	}}
}

func activeCoupon(id int64) *model.Coupon {
	return &model.Coupon{
		ID:            id,
		Code:          "WELCOME",
		DiscountType:  model.DiscountFixed,
		DiscountValue: 3000,
		ValidFrom:     time.Now().Add(-time.Hour),
		ValidTo:       time.Now().Add(time.Hour),
		TotalQuantity: 100,
	}
}

func TestOrderService_Create(t *testing.T) {
	orders := newMemOrders()
	events := &memEvents{}
	coupons := &mockCoupons{
		getFn: func(id int64) (*model.Coupon, error) { return activeCoupon(id), nil },
		activeFn: func(userID, couponID int64) (*model.UserCoupon, error) {
			return &model.UserCoupon{UserID: userID, CouponID: couponID, Status: model.UserCouponIssued}, nil
		},
	}
	svc := NewOrderService(stubDB{}, orders, coupons, testCatalog(), &mockPayments{}, events)

	o, err := svc.Create(context.Background(), &model.CreateOrderRequest{
		UserID: 1,
		Items: []model.CreateOrderItemRequest{
			{ProductID: 10, Quantity: 2, GiftWrap: true},
			{ProductID: 11, Quantity: 1},
		},
		CouponIDs: []int64{5},
	})
	require.NoError(t, err)

	// 2*20000 + 1000 gift wrap + 5000 = 46000, minus 3000 coupon.
	assert.Equal(t, int64(46_000), o.TotalAmount)
	assert.Equal(t, int64(3000), o.DiscountAmount)
	assert.Equal(t, int64(43_000), o.FinalAmount)
	assert.Equal(t, model.OrderPendingPayment, o.Status)
	assert.NotEmpty(t, o.OrderNumber)

	created := events.byType(event.TypeOrderCreated)
	require.Len(t, created, 1)
	payload := created[0].Payload.(event.OrderCreatedPayload)
	assert.Equal(t, o.ID, payload.OrderID)
	assert.Equal(t, int64(43_000), payload.FinalAmount)
	assert.Nil(t, payload.Payment)
}

func TestOrderService_Create_WithPaymentIntent(t *testing.T) {
	orders := newMemOrders()
	events := &memEvents{}
	svc := NewOrderService(stubDB{}, orders, &mockCoupons{}, testCatalog(), &mockPayments{}, events)

	_, err := svc.Create(context.Background(), &model.CreateOrderRequest{
		UserID: 1,
		Items:  []model.CreateOrderItemRequest{{ProductID: 11, Quantity: 2}},
		Payment: &model.OrderPaymentRequest{
			PointAmount: 4000,
			PgAmount:    6000,
			Card:        &model.GatewayCard{Provider: "KB"},
		},
	})
	require.NoError(t, err)

	payload := events.byType(event.TypeOrderCreated)[0].Payload.(event.OrderCreatedPayload)
	require.NotNil(t, payload.Payment)
	assert.Equal(t, int64(4000), payload.Payment.PointAmount)
	assert.Equal(t, int64(6000), payload.Payment.PgAmount)
	assert.Equal(t, "KB", payload.Payment.Provider)
}

func TestOrderService_Create_PaymentIntentMismatch(t *testing.T) {
	svc := NewOrderService(stubDB{}, newMemOrders(), &mockCoupons{}, testCatalog(), &mockPayments{}, &memEvents{})

	_, err := svc.Create(context.Background(), &model.CreateOrderRequest{
		UserID:  1,
		Items:   []model.CreateOrderItemRequest{{ProductID: 11, Quantity: 2}},
		Payment: &model.OrderPaymentRequest{PointAmount: 4000, PgAmount: 1000},
	})
	assert.ErrorIs(t, err, ErrAmountMismatch)
}

func TestOrderService_Create_UnknownProduct(t *testing.T) {
	svc := NewOrderService(stubDB{}, newMemOrders(), &mockCoupons{}, testCatalog(), &mockPayments{}, &memEvents{})

	_, err := svc.Create(context.Background(), &model.CreateOrderRequest{
		UserID: 1,
		Items:  []model.CreateOrderItemRequest{{ProductID: 999, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestOrderService_Create_CouponNotHeld(t *testing.T) {
	coupons := &mockCoupons{
		getFn: func(id int64) (*model.Coupon, error) { return activeCoupon(id), nil },
		activeFn: func(userID, couponID int64) (*model.UserCoupon, error) {
			return nil, nil
		},
	}
	svc := NewOrderService(stubDB{}, newMemOrders(), coupons, testCatalog(), &mockPayments{}, &memEvents{})

	_, err := svc.Create(context.Background(), &model.CreateOrderRequest{
		UserID:    1,
		Items:     []model.CreateOrderItemRequest{{ProductID: 11, Quantity: 1}},
		CouponIDs: []int64{5},
	})
	assert.ErrorIs(t, err, ErrCouponNotUsable)
}

func TestOrderService_Create_UnknownCoupon(t *testing.T) {
	coupons := &mockCoupons{
		getFn: func(id int64) (*model.Coupon, error) { return nil, nil },
	}
	svc := NewOrderService(stubDB{}, newMemOrders(), coupons, testCatalog(), &mockPayments{}, &memEvents{})

	_, err := svc.Create(context.Background(), &model.CreateOrderRequest{
		UserID:    1,
		Items:     []model.CreateOrderItemRequest{{ProductID: 11, Quantity: 1}},
		CouponIDs: []int64{5},
	})
	assert.ErrorIs(t, err, ErrCouponNotFound)
}

func TestOrderService_Confirm_Replay(t *testing.T) {
	orders := newMemOrders()
	events := &memEvents{}
	o := orders.seed(&model.Order{UserID: 1, Status: model.OrderConfirmed})
	svc := NewOrderService(stubDB{}, orders, &mockCoupons{}, testCatalog(), &mockPayments{}, events)

	require.NoError(t, svc.Confirm(context.Background(), o.ID, "corr"))
	assert.Empty(t, events.byType(event.TypeOrderConfirmed), "replay must not emit a second event")
}

func TestOrderService_Confirm_FromPending(t *testing.T) {
	orders := newMemOrders()
	events := &memEvents{}
	o := orders.seed(&model.Order{UserID: 1, Status: model.OrderPending,
		Items: []model.OrderItem{{ProductID: 10, Quantity: 2}}})
	svc := NewOrderService(stubDB{}, orders, &mockCoupons{}, testCatalog(), &mockPayments{}, events)

	require.NoError(t, svc.Confirm(context.Background(), o.ID, "corr"))
	assert.Equal(t, model.OrderConfirmed, orders.status(o.ID))

	confirmed := events.byType(event.TypeOrderConfirmed)
	require.Len(t, confirmed, 1)
	payload := confirmed[0].Payload.(event.OrderConfirmedPayload)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, int64(10), payload.Items[0].ProductID)
}

func TestOrderService_Confirm_InvalidFrom(t *testing.T) {
	orders := newMemOrders()
	o := orders.seed(&model.Order{UserID: 1, Status: model.OrderPendingPayment})
	svc := NewOrderService(stubDB{}, orders, &mockCoupons{}, testCatalog(), &mockPayments{}, &memEvents{})

	err := svc.Confirm(context.Background(), o.ID, "corr")
	assert.ErrorIs(t, err, ErrInvalidOrderStatus)
}

func TestOrderService_Cancel(t *testing.T) {
	orders := newMemOrders()
	events := &memEvents{}
	payments := &mockPayments{getFn: func(orderID int64) (*model.Payment, error) {
		return &model.Payment{OrderID: orderID, PointAmount: 7000, Status: model.PaymentCompleted}, nil
	}}
	o := orders.seed(&model.Order{
		UserID: 1, Status: model.OrderConfirmed, OrderNumber: "ORD-X",
		UsedCouponIDs: []int64{5},
		Items:         []model.OrderItem{{ProductID: 10, Quantity: 1}},
	})
	svc := NewOrderService(stubDB{}, orders, &mockCoupons{}, testCatalog(), payments, events)

	_, err := svc.Cancel(context.Background(), o.ID, 1, "change of mind")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, orders.status(o.ID))

	cancelled := events.byType(event.TypeOrderCancelled)
	require.Len(t, cancelled, 1)
	payload := cancelled[0].Payload.(event.OrderCancelledPayload)
	assert.Equal(t, int64(7000), payload.RefundPoints, "refund equals the settled point amount")
	assert.Equal(t, []int64{5}, payload.CouponIDs)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, int64(10), payload.Items[0].ProductID)

	// Second cancel is a replay.
	_, err = svc.Cancel(context.Background(), o.ID, 1, "again")
	require.NoError(t, err)
	assert.Len(t, events.byType(event.TypeOrderCancelled), 1)
}

// A cancel before payment settled moved no points, stock, or coupons, so the
// event must not ask downstream handlers to compensate anything.
func TestOrderService_Cancel_BeforePayment(t *testing.T) {
	orders := newMemOrders()
	events := &memEvents{}
	o := orders.seed(&model.Order{
		UserID: 1, Status: model.OrderPending, OrderNumber: "ORD-Y",
		UsedCouponIDs: []int64{5},
		Items:         []model.OrderItem{{ProductID: 10, Quantity: 1}},
	})
	svc := NewOrderService(stubDB{}, orders, &mockCoupons{}, testCatalog(), &mockPayments{}, events)

	_, err := svc.Cancel(context.Background(), o.ID, 1, "changed my mind")
	require.NoError(t, err)

	cancelled := events.byType(event.TypeOrderCancelled)
	require.Len(t, cancelled, 1)
	payload := cancelled[0].Payload.(event.OrderCancelledPayload)
	assert.Zero(t, payload.RefundPoints)
	assert.Empty(t, payload.Items)
	assert.Empty(t, payload.CouponIDs)
}

func TestOrderService_Cancel_WrongUser(t *testing.T) {
	orders := newMemOrders()
	o := orders.seed(&model.Order{UserID: 1, Status: model.OrderPending})
	svc := NewOrderService(stubDB{}, orders, &mockCoupons{}, testCatalog(), &mockPayments{}, &memEvents{})

	_, err := svc.Cancel(context.Background(), o.ID, 2, "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderService_Cancel_TerminalState(t *testing.T) {
	orders := newMemOrders()
	o := orders.seed(&model.Order{UserID: 1, Status: model.OrderExpired})
	svc := NewOrderService(stubDB{}, orders, &mockCoupons{}, testCatalog(), &mockPayments{}, &memEvents{})

	_, err := svc.Cancel(context.Background(), o.ID, 1, "")
	assert.ErrorIs(t, err, ErrInvalidOrderStatus)
}

func TestOrderService_MarkFailed(t *testing.T) {
	orders := newMemOrders()
	o := orders.seed(&model.Order{UserID: 1, Status: model.OrderPending})
	svc := NewOrderService(stubDB{}, orders, &mockCoupons{}, testCatalog(), &mockPayments{}, &memEvents{})

	require.NoError(t, svc.MarkFailed(context.Background(), o.ID, "gateway declined"))
	assert.Equal(t, model.OrderFailed, orders.status(o.ID))

	// Replay.
	require.NoError(t, svc.MarkFailed(context.Background(), o.ID, "gateway declined"))
}

func TestOrderService_ExpireStale(t *testing.T) {
	orders := newMemOrders()
	stale := orders.seed(&model.Order{UserID: 1, Status: model.OrderPendingPayment,
		CreatedAt: time.Now().Add(-time.Hour)})
	fresh := orders.seed(&model.Order{UserID: 1, Status: model.OrderPendingPayment,
		CreatedAt: time.Now()})
	svc := NewOrderService(stubDB{}, orders, &mockCoupons{}, testCatalog(), &mockPayments{}, &memEvents{})

	n, err := svc.ExpireStale(context.Background(), 30*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.OrderExpired, orders.status(stale.ID))
	assert.Equal(t, model.OrderPendingPayment, orders.status(fresh.ID))
}
