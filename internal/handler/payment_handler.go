package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
)

// PaymentOperations is the slice of PaymentService the handler needs.
type PaymentOperations interface {
	Process(ctx context.Context, req *model.ProcessPaymentRequest) (*model.PaymentResponse, error)
}

// PaymentHandler serves POST /api/v1/payments, the synchronous payment path.
type PaymentHandler struct {
	payments PaymentOperations
	validate *validator.Validate
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(payments PaymentOperations, validate *validator.Validate) *PaymentHandler {
	return &PaymentHandler{payments: payments, validate: validate}
}

// Process handles POST /api/v1/payments.
func (h *PaymentHandler) Process(c *fiber.Ctx) error {
	var req model.ProcessPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "요청 본문을 해석할 수 없습니다")
	}
	if err := h.validate.Struct(&req); err != nil {
		return fail(c, err)
	}

	resp, err := h.payments.Process(c.Context(), &req)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusCreated, resp)
}
