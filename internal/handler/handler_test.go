package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/service"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/stats"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/validator"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	} `json:"error"`
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env), "body: %s", raw)
	return resp, env
}

// mockPoints is a function-field PointOperations.
type mockPoints struct {
	chargeFn  func(userID, amount int64) (*model.UserBalance, error)
	deductFn  func(userID, amount int64, orderID *int64) (*model.UserBalance, error)
	balanceFn func(userID int64) (*model.UserBalance, error)
}

func (m *mockPoints) Charge(ctx context.Context, userID, amount int64, description string) (*model.UserBalance, error) {
	return m.chargeFn(userID, amount)
}

func (m *mockPoints) Deduct(ctx context.Context, userID, amount int64, orderID *int64, description string) (*model.UserBalance, error) {
	return m.deductFn(userID, amount, orderID)
}

func (m *mockPoints) GetBalance(ctx context.Context, userID int64) (*model.UserBalance, error) {
	if m.balanceFn != nil {
		return m.balanceFn(userID)
	}
	return &model.UserBalance{UserID: userID, Balance: 5000}, nil
}

func (m *mockPoints) GetHistories(ctx context.Context, userID int64) ([]model.BalanceHistory, error) {
	return []model.BalanceHistory{{UserID: userID, Amount: 5000, Type: model.BalanceEarn}}, nil
}

func pointApp(points PointOperations) *fiber.App {
	app := fiber.New()
	h := NewPointHandler(points, validator.New())
	app.Get("/api/v1/users/me/balance", h.MyBalance)
	app.Get("/api/v1/points/:userId", h.GetBalance)
	app.Post("/api/v1/points/:userId/charge", h.Charge)
	app.Post("/api/v1/points/:userId/deduct", h.Deduct)
	app.Get("/api/v1/points/:userId/histories", h.Histories)
	return app
}

func TestPointHandler_Charge(t *testing.T) {
	app := pointApp(&mockPoints{chargeFn: func(userID, amount int64) (*model.UserBalance, error) {
		assert.Equal(t, int64(42), userID)
		assert.Equal(t, int64(10000), amount)
		return &model.UserBalance{UserID: userID, Balance: 10000}, nil
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/points/42/charge",
		fiber.Map{"amount": 10000}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)

	var body model.BalanceResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, int64(10000), body.Balance)
}

func TestPointHandler_Charge_DomainError(t *testing.T) {
	app := pointApp(&mockPoints{chargeFn: func(userID, amount int64) (*model.UserBalance, error) {
		return nil, service.ErrInvalidPointAmount
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/points/42/charge",
		fiber.Map{"amount": 1050}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "POINT003", env.Error.Code)
}

func TestPointHandler_Charge_ValidationError(t *testing.T) {
	app := pointApp(&mockPoints{chargeFn: func(userID, amount int64) (*model.UserBalance, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/points/42/charge",
		fiber.Map{"amount": -100}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION001", env.Error.Code)
}

func TestPointHandler_Deduct_PassesOrderID(t *testing.T) {
	var gotOrder *int64
	app := pointApp(&mockPoints{deductFn: func(userID, amount int64, orderID *int64) (*model.UserBalance, error) {
		gotOrder = orderID
		return &model.UserBalance{UserID: userID, Balance: 0}, nil
	}})

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/points/42/deduct",
		fiber.Map{"amount": 5000, "order_id": 9}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, gotOrder)
	assert.Equal(t, int64(9), *gotOrder)
}

func TestPointHandler_MyBalance_UsesHeader(t *testing.T) {
	app := pointApp(&mockPoints{balanceFn: func(userID int64) (*model.UserBalance, error) {
		assert.Equal(t, int64(7), userID)
		return &model.UserBalance{UserID: userID, Balance: 1234}, nil
	}})

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/users/me/balance", nil,
		map[string]string{"X-User-Id": "7"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
}

func TestPointHandler_MyBalance_MissingHeader(t *testing.T) {
	app := pointApp(&mockPoints{})
	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/users/me/balance", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, env.Success)
}

func TestPointHandler_GetBalance_NotFound(t *testing.T) {
	app := pointApp(&mockPoints{balanceFn: func(userID int64) (*model.UserBalance, error) {
		return nil, service.ErrUserPointNotFound
	}})

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/points/404", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "POINT004", env.Error.Code)
}

// mockOrderOps is a function-field OrderOperations.
type mockOrderOps struct {
	createFn func(req *model.CreateOrderRequest) (*model.Order, error)
	cancelFn func(orderID, userID int64, reason string) (*model.Order, error)
}

func (m *mockOrderOps) Create(ctx context.Context, req *model.CreateOrderRequest) (*model.Order, error) {
	return m.createFn(req)
}

func (m *mockOrderOps) GetByID(ctx context.Context, orderID int64) (*model.Order, error) {
	return &model.Order{ID: orderID, Status: model.OrderPendingPayment}, nil
}

func (m *mockOrderOps) Cancel(ctx context.Context, orderID, userID int64, reason string) (*model.Order, error) {
	return m.cancelFn(orderID, userID, reason)
}

func orderApp(orders OrderOperations) *fiber.App {
	app := fiber.New()
	h := NewOrderHandler(orders, validator.New())
	app.Post("/api/v1/orders", h.Create)
	app.Get("/api/v1/orders/:id", h.Get)
	app.Post("/api/v1/orders/:id/cancel", h.Cancel)
	return app
}

func TestOrderHandler_Create(t *testing.T) {
	app := orderApp(&mockOrderOps{createFn: func(req *model.CreateOrderRequest) (*model.Order, error) {
		assert.Equal(t, int64(1), req.UserID)
		require.Len(t, req.Items, 1)
		return &model.Order{ID: 9, UserID: 1, Status: model.OrderPendingPayment}, nil
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/orders", fiber.Map{
		"user_id": 1,
		"items":   []fiber.Map{{"product_id": 10, "quantity": 2}},
	}, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, env.Success)
}

func TestOrderHandler_Create_EmptyItems(t *testing.T) {
	app := orderApp(&mockOrderOps{createFn: func(req *model.CreateOrderRequest) (*model.Order, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/orders",
		fiber.Map{"user_id": 1, "items": []fiber.Map{}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION001", env.Error.Code)
}

func TestOrderHandler_Cancel(t *testing.T) {
	app := orderApp(&mockOrderOps{cancelFn: func(orderID, userID int64, reason string) (*model.Order, error) {
		assert.Equal(t, int64(9), orderID)
		assert.Equal(t, int64(1), userID)
		assert.Equal(t, "defective", reason)
		return &model.Order{ID: orderID, Status: model.OrderCancelled}, nil
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/orders/9/cancel",
		fiber.Map{"reason": "defective"}, map[string]string{"X-User-Id": "1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
}

func TestOrderHandler_Cancel_NotOwner(t *testing.T) {
	app := orderApp(&mockOrderOps{cancelFn: func(orderID, userID int64, reason string) (*model.Order, error) {
		return nil, service.ErrOrderNotFound
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/orders/9/cancel",
		nil, map[string]string{"X-User-Id": "2"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ORDER001", env.Error.Code)
}

// mockPaymentOps is a function-field PaymentOperations.
type mockPaymentOps struct {
	processFn func(req *model.ProcessPaymentRequest) (*model.PaymentResponse, error)
}

func (m *mockPaymentOps) Process(ctx context.Context, req *model.ProcessPaymentRequest) (*model.PaymentResponse, error) {
	return m.processFn(req)
}

func paymentApp(payments PaymentOperations) *fiber.App {
	app := fiber.New()
	h := NewPaymentHandler(payments, validator.New())
	app.Post("/api/v1/payments", h.Process)
	return app
}

func TestPaymentHandler_Process(t *testing.T) {
	app := paymentApp(&mockPaymentOps{processFn: func(req *model.ProcessPaymentRequest) (*model.PaymentResponse, error) {
		assert.Equal(t, "MIXED", req.PaymentMethod)
		return &model.PaymentResponse{OrderID: req.OrderID, Status: model.PaymentCompleted}, nil
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/payments", fiber.Map{
		"orderId":       9,
		"userId":        1,
		"paymentMethod": "MIXED",
		"pointAmount":   13000,
		"pgAmount":      30000,
	}, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, env.Success)
}

func TestPaymentHandler_Process_InsufficientPoints(t *testing.T) {
	app := paymentApp(&mockPaymentOps{processFn: func(req *model.ProcessPaymentRequest) (*model.PaymentResponse, error) {
		return nil, service.ErrInsufficientBalance.WithData(map[string]any{
			"currentBalance": int64(10000),
			"pointAmount":    int64(20000),
		})
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/payments", fiber.Map{
		"orderId": 9, "userId": 1, "paymentMethod": "POINT", "pointAmount": 20000,
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "POINT001", env.Error.Code)
	assert.Equal(t, "포인트 잔액이 부족합니다", env.Error.Message)
}

func TestPaymentHandler_Process_GatewayFailed(t *testing.T) {
	app := paymentApp(&mockPaymentOps{processFn: func(req *model.ProcessPaymentRequest) (*model.PaymentResponse, error) {
		return nil, service.ErrGatewayFailed.WithData(map[string]any{"errorCode": "LIMIT_EXCEEDED"})
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/payments", fiber.Map{
		"orderId": 9, "userId": 1, "paymentMethod": "GATEWAY", "pgAmount": 43000,
	}, nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "PAYMENT003", env.Error.Code)
	assert.Equal(t, "LIMIT_EXCEEDED", env.Error.Data["errorCode"])
}

func TestPaymentHandler_Process_InvalidMethod(t *testing.T) {
	app := paymentApp(&mockPaymentOps{processFn: func(req *model.ProcessPaymentRequest) (*model.PaymentResponse, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}})

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/payments", fiber.Map{
		"orderId": 9, "userId": 1, "paymentMethod": "CASH", "pgAmount": 43000,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// mockIssuer is a function-field IssueAdmitter.
type mockIssuer struct {
	issueFn func(couponID, userID int64) (*model.IssueCouponResult, error)
}

func (m *mockIssuer) Issue(ctx context.Context, couponID, userID int64) (*model.IssueCouponResult, error) {
	return m.issueFn(couponID, userID)
}

func couponApp(issuer IssueAdmitter) *fiber.App {
	app := fiber.New()
	h := NewCouponHandler(issuer)
	app.Post("/api/v1/coupons/:id/issue", h.Issue)
	return app
}

func TestCouponHandler_Issue_Accepted(t *testing.T) {
	app := couponApp(&mockIssuer{issueFn: func(couponID, userID int64) (*model.IssueCouponResult, error) {
		assert.Equal(t, int64(5), couponID)
		assert.Equal(t, int64(1), userID)
		return &model.IssueCouponResult{Status: model.IssueAccepted, QueuePosition: 37}, nil
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/coupons/5/issue",
		nil, map[string]string{"X-User-Id": "1"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result model.IssueCouponResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, model.IssueAccepted, result.Status)
	assert.Equal(t, int64(37), result.QueuePosition)
}

func TestCouponHandler_Issue_SoldOut(t *testing.T) {
	app := couponApp(&mockIssuer{issueFn: func(couponID, userID int64) (*model.IssueCouponResult, error) {
		return &model.IssueCouponResult{Status: model.IssueSoldOut}, nil
	}})

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/coupons/5/issue",
		nil, map[string]string{"X-User-Id": "1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCouponHandler_Issue_MissingUser(t *testing.T) {
	app := couponApp(&mockIssuer{issueFn: func(couponID, userID int64) (*model.IssueCouponResult, error) {
		t.Fatal("engine must not be called")
		return nil, nil
	}})

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/coupons/5/issue", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// mockPopular is a function-field PopularReader.
type mockPopular struct {
	productsFn func(limit int) ([]model.PopularProduct, error)
}

func (m *mockPopular) Products(ctx context.Context, limit int) ([]model.PopularProduct, error) {
	return m.productsFn(limit)
}

// mockIngest is a function-field StatsIngester.
type mockIngest struct {
	views  []int64
	wishes []int64
	counts map[stats.Kind]int64
}

func (m *mockIngest) RecordView(ctx context.Context, productID int64) error {
	m.views = append(m.views, productID)
	return nil
}

func (m *mockIngest) RecordWish(ctx context.Context, productID int64) error {
	m.wishes = append(m.wishes, productID)
	return nil
}

func (m *mockIngest) RealtimeCount(ctx context.Context, kind stats.Kind, productID int64) (int64, error) {
	return m.counts[kind], nil
}

func productApp(popular PopularReader, ingest StatsIngester) *fiber.App {
	app := fiber.New()
	h := NewProductHandler(popular, ingest)
	app.Get("/api/v1/products/popular", h.Popular)
	app.Post("/api/v1/products/:id/view", h.RecordView)
	app.Post("/api/v1/products/:id/wish", h.RecordWish)
	app.Get("/api/v1/products/:id/stats", h.RealtimeStats)
	return app
}

func TestProductHandler_Popular(t *testing.T) {
	app := productApp(&mockPopular{productsFn: func(limit int) ([]model.PopularProduct, error) {
		assert.Equal(t, 5, limit)
		return []model.PopularProduct{{ProductID: 10, Score: 1.4}}, nil
	}}, &mockIngest{})

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/products/popular?limit=5", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var products []model.PopularProduct
	require.NoError(t, json.Unmarshal(env.Data, &products))
	require.Len(t, products, 1)
	assert.Equal(t, int64(10), products[0].ProductID)
}

func TestProductHandler_Popular_BadLimit(t *testing.T) {
	app := productApp(&mockPopular{productsFn: func(limit int) ([]model.PopularProduct, error) {
		t.Fatal("read path must not be called")
		return nil, nil
	}}, &mockIngest{})

	resp, _ := doJSON(t, app, http.MethodGet, "/api/v1/products/popular?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProductHandler_RecordAndStats(t *testing.T) {
	ingest := &mockIngest{counts: map[stats.Kind]int64{stats.KindView: 3}}
	app := productApp(&mockPopular{}, ingest)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/products/10/view", nil, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []int64{10}, ingest.views)

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/products/10/stats", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var counts map[string]int64
	require.NoError(t, json.Unmarshal(env.Data, &counts))
	assert.Equal(t, int64(3), counts["view"])
}
