package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/gateway"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// stubTx satisfies pgx.Tx for services that only pass it through to stores.
type stubTx struct {
	pgx.Tx
}

func (stubTx) Commit(ctx context.Context) error   { return nil }
func (stubTx) Rollback(ctx context.Context) error { return nil }

// stubDB satisfies the DB interface; stores in these tests never touch it.
type stubDB struct{}

func (stubDB) Begin(ctx context.Context) (pgx.Tx, error) { return stubTx{}, nil }
func (stubDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (stubDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (stubDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

// passLocker runs the critical section without a real lease.
type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memBalances is a stateful in-memory BalanceStore that enforces the same
// version CAS as the SQL implementation.
type memBalances struct {
	mu        sync.Mutex
	balances  map[int64]*model.UserBalance
	histories []model.BalanceHistory
}

func newMemBalances() *memBalances {
	return &memBalances{balances: map[int64]*model.UserBalance{}}
}

func (m *memBalances) seed(userID, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = &model.UserBalance{UserID: userID, Balance: balance}
}

func (m *memBalances) Get(ctx context.Context, userID int64) (*model.UserBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[userID]; ok {
		copied := *b
		return &copied, nil
	}
	return nil, nil
}

func (m *memBalances) GetForUpdate(ctx context.Context, tx database.TxQuerier, userID int64) (*model.UserBalance, error) {
	return m.Get(ctx, userID)
}

func (m *memBalances) CreateIfAbsent(ctx context.Context, tx database.TxQuerier, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[userID]; !ok {
		m.balances[userID] = &model.UserBalance{UserID: userID}
	}
	return nil
}

func (m *memBalances) UpdateWithVersion(ctx context.Context, tx database.TxQuerier, userID, newBalance, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok || b.Version != expectedVersion {
		return model.ErrVersionConflict
	}
	b.Balance = newBalance
	b.Version++
	return nil
}

func (m *memBalances) InsertHistory(ctx context.Context, tx database.TxQuerier, h *model.BalanceHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = int64(len(m.histories) + 1)
	h.CreatedAt = time.Now()
	m.histories = append(m.histories, *h)
	return nil
}

func (m *memBalances) SumDailyUse(ctx context.Context, q database.TxQuerier, userID int64, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, h := range m.histories {
		if h.UserID == userID && h.Type == model.BalanceUse && !h.CreatedAt.Before(since) {
			sum += -h.Amount
		}
	}
	return sum, nil
}

func (m *memBalances) HasRefundForOrder(ctx context.Context, q database.TxQuerier, userID, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.histories {
		if h.UserID == userID && h.Type == model.BalanceRefund && h.OrderID != nil && *h.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBalances) ListHistories(ctx context.Context, userID int64, limit int) ([]model.BalanceHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BalanceHistory
	for i := len(m.histories) - 1; i >= 0 && len(out) < limit; i-- {
		if m.histories[i].UserID == userID {
			out = append(out, m.histories[i])
		}
	}
	return out, nil
}

func (m *memBalances) historyCount(userID int64, typ model.BalanceHistoryType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.histories {
		if h.UserID == userID && h.Type == typ {
			n++
		}
	}
	return n
}

// memOrders is a stateful in-memory OrderStore.
type memOrders struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*model.Order
}

func newMemOrders() *memOrders {
	return &memOrders{nextID: 1, orders: map[int64]*model.Order{}}
}

func (m *memOrders) seed(o *model.Order) *model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		o.ID = m.nextID
		m.nextID++
	}
	m.orders[o.ID] = o
	return o
}

func (m *memOrders) Insert(ctx context.Context, tx database.TxQuerier, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = m.nextID
	m.nextID++
	o.CreatedAt = time.Now()
	copied := *o
	m.orders[o.ID] = &copied
	return nil
}

func (m *memOrders) GetByID(ctx context.Context, q database.TxQuerier, orderID int64) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		copied := *o
		return &copied, nil
	}
	return nil, nil
}

func (m *memOrders) GetForUpdate(ctx context.Context, tx database.TxQuerier, orderID int64) (*model.Order, error) {
	return m.GetByID(ctx, tx, orderID)
}

func (m *memOrders) TransitionStatus(ctx context.Context, tx database.TxQuerier, orderID int64, from, to model.OrderStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != from {
		return model.ErrVersionConflict
	}
	o.Status = to
	o.FailureReason = reason
	o.Version++
	return nil
}

func (m *memOrders) ListStalePendingPayment(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, o := range m.orders {
		if o.Status == model.OrderPendingPayment && o.CreatedAt.Before(cutoff) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memOrders) status(orderID int64) model.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[orderID].Status
}

// recordedEvent is one Append call captured by memEvents.
type recordedEvent struct {
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       any
}

// memEvents records outbox appends.
type memEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (m *memEvents) Append(ctx context.Context, tx database.TxQuerier, eventType, aggregateType, aggregateID string, payload any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{eventType, aggregateType, aggregateID, payload})
	return int64(len(m.events)), nil
}

func (m *memEvents) byType(eventType string) []recordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recordedEvent
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// mockPayments is a function-field PaymentStore.
type mockPayments struct {
	mu       sync.Mutex
	inserted []*model.Payment
	insertFn func(p *model.Payment) error
	getFn    func(orderID int64) (*model.Payment, error)
}

func (m *mockPayments) Insert(ctx context.Context, tx database.TxQuerier, p *model.Payment) error {
	if m.insertFn != nil {
		if err := m.insertFn(p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = int64(len(m.inserted) + 1)
	m.inserted = append(m.inserted, p)
	return nil
}

func (m *mockPayments) GetCompletedByOrder(ctx context.Context, q database.TxQuerier, orderID int64) (*model.Payment, error) {
	if m.getFn != nil {
		return m.getFn(orderID)
	}
	return nil, nil
}

// mockGateway is a function-field gateway client.
type mockGateway struct {
	mu        sync.Mutex
	requests  []gateway.PaymentRequest
	cancels   []string
	requestFn func(req gateway.PaymentRequest) (*gateway.PaymentResult, error)
	cancelFn  func(txnID string) (*gateway.CancelResult, error)
}

func (m *mockGateway) RequestPayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.requestFn != nil {
		return m.requestFn(req)
	}
	return &gateway.PaymentResult{Success: true, TransactionID: "txn-ok"}, nil
}

func (m *mockGateway) CancelPayment(ctx context.Context, txnID string) (*gateway.CancelResult, error) {
	m.mu.Lock()
	m.cancels = append(m.cancels, txnID)
	m.mu.Unlock()
	if m.cancelFn != nil {
		return m.cancelFn(txnID)
	}
	return &gateway.CancelResult{Success: true}, nil
}

// mockCoupons is a function-field CouponStore.
type mockCoupons struct {
	getFn      func(couponID int64) (*model.Coupon, error)
	activeFn   func(userID, couponID int64) (*model.UserCoupon, error)
	markUsedFn func(userID, couponID, orderID int64) (int64, error)
	restoredFn func(userID, couponID, orderID int64) (int64, error)
}

func (m *mockCoupons) GetByID(ctx context.Context, q database.TxQuerier, couponID int64) (*model.Coupon, error) {
	if m.getFn != nil {
		return m.getFn(couponID)
	}
	return nil, nil
}

func (m *mockCoupons) GetActiveUserCoupon(ctx context.Context, q database.TxQuerier, userID, couponID int64) (*model.UserCoupon, error) {
	if m.activeFn != nil {
		return m.activeFn(userID, couponID)
	}
	return nil, nil
}

func (m *mockCoupons) MarkUsed(ctx context.Context, tx database.TxQuerier, userID, couponID, orderID int64) (int64, error) {
	if m.markUsedFn != nil {
		return m.markUsedFn(userID, couponID, orderID)
	}
	return 1, nil
}

func (m *mockCoupons) MarkRestored(ctx context.Context, tx database.TxQuerier, userID, couponID, orderID int64) (int64, error) {
	if m.restoredFn != nil {
		return m.restoredFn(userID, couponID, orderID)
	}
	return 1, nil
}

// memDedup is an in-memory DedupStore with first-claim-wins semantics.
type memDedup struct {
	mu     sync.Mutex
	claims map[string]bool
}

func newMemDedup() *memDedup {
	return &memDedup{claims: map[string]bool{}}
}

func (m *memDedup) ClaimOnce(ctx context.Context, tx database.TxQuerier, handler string, eventID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s:%d", handler, eventID)
	if m.claims[key] {
		return false, nil
	}
	m.claims[key] = true
	return true, nil
}

// mockCatalog is a fixed-price ProductCatalog.
type mockCatalog struct {
	products map[int64]model.Product
}

func (m *mockCatalog) ListByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	out := map[int64]model.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
