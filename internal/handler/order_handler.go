package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
)

// OrderOperations is the slice of OrderService the handler needs.
type OrderOperations interface {
	Create(ctx context.Context, req *model.CreateOrderRequest) (*model.Order, error)
	GetByID(ctx context.Context, orderID int64) (*model.Order, error)
	Cancel(ctx context.Context, orderID, userID int64, reason string) (*model.Order, error)
}

// OrderHandler serves the order endpoints.
type OrderHandler struct {
	orders   OrderOperations
	validate *validator.Validate
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderOperations, validate *validator.Validate) *OrderHandler {
	return &OrderHandler{orders: orders, validate: validate}
}

// Create handles POST /api/v1/orders.
func (h *OrderHandler) Create(c *fiber.Ctx) error {
	var req model.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "요청 본문을 해석할 수 없습니다")
	}
	if err := h.validate.Struct(&req); err != nil {
		return fail(c, err)
	}

	o, err := h.orders.Create(c.Context(), &req)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusCreated, o)
}

// Get handles GET /api/v1/orders/:id.
func (h *OrderHandler) Get(c *fiber.Ctx) error {
	orderID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "id 경로 값이 올바르지 않습니다")
	}
	o, err := h.orders.GetByID(c.Context(), orderID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, o)
}

// cancelOrderRequest is the body of POST /api/v1/orders/:id/cancel.
type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"omitempty,notblank,max=255"`
}

// Cancel handles POST /api/v1/orders/:id/cancel.
func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	orderID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "id 경로 값이 올바르지 않습니다")
	}
	userID, err := headerUserID(c)
	if err != nil {
		return badRequest(c, "인증 정보가 없습니다")
	}

	var req cancelOrderRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "요청 본문을 해석할 수 없습니다")
		}
		if err := h.validate.Struct(&req); err != nil {
			return fail(c, err)
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "사용자 요청"
	}

	o, err := h.orders.Cancel(c.Context(), orderID, userID, reason)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, o)
}
