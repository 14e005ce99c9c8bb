package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/event"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// memStocks is a stateful in-memory InventoryStore with the same guarded
// deduct semantics as the SQL implementation.
type memStocks struct {
	mu     sync.Mutex
	stocks map[int64]*model.Inventory
}

func newMemStocks() *memStocks {
	return &memStocks{stocks: map[int64]*model.Inventory{}}
}

func (m *memStocks) seed(productID, qty int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks[productID] = &model.Inventory{ProductID: productID, Quantity: qty}
}

func (m *memStocks) Get(ctx context.Context, q database.TxQuerier, productID int64) (*model.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.stocks[productID]; ok {
		copied := *inv
		return &copied, nil
	}
	return nil, nil
}

func (m *memStocks) Deduct(ctx context.Context, tx database.TxQuerier, productID, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.stocks[productID]
	if !ok || inv.Quantity < qty {
		return model.ErrVersionConflict
	}
	inv.Quantity -= qty
	inv.Version++
	return nil
}

func (m *memStocks) Restore(ctx context.Context, tx database.TxQuerier, productID, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.stocks[productID]
	if !ok {
		return model.ErrVersionConflict
	}
	inv.Quantity += qty
	inv.Version++
	return nil
}

func (m *memStocks) qty(productID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stocks[productID].Quantity
}

func TestInventoryService_DeductForOrder(t *testing.T) {
	stocks := newMemStocks()
	stocks.seed(10, 5)
	stocks.seed(11, 5)
	events := &memEvents{}
	svc := NewInventoryService(stubDB{}, stocks, newMemDedup(), events)

	items := []event.OrderItemDelta{
		{ProductID: 10, Quantity: 2},
		{ProductID: 11, Quantity: 1},
	}
	require.NoError(t, svc.DeductForOrder(context.Background(), 77, 1, items, "corr"))

	assert.Equal(t, int64(3), stocks.qty(10))
	assert.Equal(t, int64(4), stocks.qty(11))
	assert.Len(t, events.byType(event.TypeStockDeducted), 1)

	// Redelivery of the same event must not deduct twice.
	require.NoError(t, svc.DeductForOrder(context.Background(), 77, 1, items, "corr"))
	assert.Equal(t, int64(3), stocks.qty(10))
	assert.Len(t, events.byType(event.TypeStockDeducted), 1)
}

func TestInventoryService_DeductForOrder_Shortfall(t *testing.T) {
	stocks := newMemStocks()
	stocks.seed(10, 5)
	stocks.seed(11, 1)
	events := &memEvents{}
	svc := NewInventoryService(stubDB{}, stocks, newMemDedup(), events)

	err := svc.DeductForOrder(context.Background(), 77, 1, []event.OrderItemDelta{
		{ProductID: 10, Quantity: 2},
		{ProductID: 11, Quantity: 3},
	}, "corr")
	require.ErrorIs(t, err, ErrInsufficientInventory)

	insufficient := events.byType(event.TypeInventoryInsufficient)
	require.Len(t, insufficient, 1)
	payload := insufficient[0].Payload.(*event.InventoryInsufficientPayload)
	assert.Equal(t, int64(11), payload.ProductID)
	assert.Equal(t, int64(3), payload.Requested)
	assert.Equal(t, int64(1), payload.Available)

	assert.Empty(t, events.byType(event.TypeStockDeducted))
}

func TestInventoryService_RestoreForOrder(t *testing.T) {
	stocks := newMemStocks()
	stocks.seed(10, 3)
	svc := NewInventoryService(stubDB{}, stocks, newMemDedup(), &memEvents{})

	items := []event.OrderItemDelta{{ProductID: 10, Quantity: 2}}
	require.NoError(t, svc.RestoreForOrder(context.Background(), 78, 1, items))
	assert.Equal(t, int64(5), stocks.qty(10))

	// Redelivered cancellation restores nothing more.
	require.NoError(t, svc.RestoreForOrder(context.Background(), 78, 1, items))
	assert.Equal(t, int64(5), stocks.qty(10))
}

func TestInventoryService_Get_NotFound(t *testing.T) {
	svc := NewInventoryService(stubDB{}, newMemStocks(), newMemDedup(), &memEvents{})

	_, err := svc.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrInventoryNotFound)
}

func TestCouponService_UseForOrder(t *testing.T) {
	events := &memEvents{}
	used := map[int64]bool{}
	coupons := &mockCoupons{
		markUsedFn: func(userID, couponID, orderID int64) (int64, error) {
			if used[couponID] {
				return 0, nil
			}
			used[couponID] = true
			return 1, nil
		},
	}
	svc := NewCouponService(stubDB{}, coupons, events)

	require.NoError(t, svc.UseForOrder(context.Background(), 1, 9, []int64{5, 6}, "corr"))
	require.Len(t, events.byType(event.TypeCouponUsed), 1)
	payload := events.byType(event.TypeCouponUsed)[0].Payload.(event.CouponUsedPayload)
	assert.Equal(t, []int64{5, 6}, payload.CouponIDs)

	// Redelivery: both rows already USED, no second event.
	require.NoError(t, svc.UseForOrder(context.Background(), 1, 9, []int64{5, 6}, "corr"))
	assert.Len(t, events.byType(event.TypeCouponUsed), 1)
}

func TestCouponService_RestoreForOrder(t *testing.T) {
	events := &memEvents{}
	coupons := &mockCoupons{
		restoredFn: func(userID, couponID, orderID int64) (int64, error) {
			if couponID == 5 {
				return 1, nil
			}
			return 0, nil
		},
	}
	svc := NewCouponService(stubDB{}, coupons, events)

	require.NoError(t, svc.RestoreForOrder(context.Background(), 1, 9, []int64{5, 6}, "corr"))
	restored := events.byType(event.TypeCouponRestored)
	require.Len(t, restored, 1)
	assert.Equal(t, []int64{5}, restored[0].Payload.(event.CouponRestoredPayload).CouponIDs)
}

func TestCouponService_UseForOrder_Empty(t *testing.T) {
	svc := NewCouponService(stubDB{}, &mockCoupons{}, &memEvents{})
	require.NoError(t, svc.UseForOrder(context.Background(), 1, 9, nil, "corr"))
}
