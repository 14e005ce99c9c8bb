package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
)

// PointOperations is the slice of PointService the handler needs.
type PointOperations interface {
	Charge(ctx context.Context, userID, amount int64, description string) (*model.UserBalance, error)
	Deduct(ctx context.Context, userID, amount int64, orderID *int64, description string) (*model.UserBalance, error)
	GetBalance(ctx context.Context, userID int64) (*model.UserBalance, error)
	GetHistories(ctx context.Context, userID int64) ([]model.BalanceHistory, error)
}

// PointHandler serves the point-balance endpoints.
type PointHandler struct {
	points   PointOperations
	validate *validator.Validate
}

// NewPointHandler creates a PointHandler.
func NewPointHandler(points PointOperations, validate *validator.Validate) *PointHandler {
	return &PointHandler{points: points, validate: validate}
}

func balanceResponse(b *model.UserBalance) model.BalanceResponse {
	return model.BalanceResponse{UserID: b.UserID, Balance: b.Balance, LastUpdated: b.UpdatedAt}
}

// GetBalance handles GET /api/v1/points/:userId.
func (h *PointHandler) GetBalance(c *fiber.Ctx) error {
	userID, err := pathID(c, "userId")
	if err != nil {
		return badRequest(c, "userId 경로 값이 올바르지 않습니다")
	}
	b, err := h.points.GetBalance(c.Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, balanceResponse(b))
}

// MyBalance handles GET /api/v1/users/me/balance.
func (h *PointHandler) MyBalance(c *fiber.Ctx) error {
	userID, err := headerUserID(c)
	if err != nil {
		return badRequest(c, "인증 정보가 없습니다")
	}
	b, err := h.points.GetBalance(c.Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, balanceResponse(b))
}

// Charge handles POST /api/v1/points/:userId/charge.
func (h *PointHandler) Charge(c *fiber.Ctx) error {
	userID, err := pathID(c, "userId")
	if err != nil {
		return badRequest(c, "userId 경로 값이 올바르지 않습니다")
	}
	var req model.ChargePointRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "요청 본문을 해석할 수 없습니다")
	}
	if err := h.validate.Struct(&req); err != nil {
		return fail(c, err)
	}

	b, err := h.points.Charge(c.Context(), userID, req.Amount, req.Description)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, balanceResponse(b))
}

// Deduct handles POST /api/v1/points/:userId/deduct.
func (h *PointHandler) Deduct(c *fiber.Ctx) error {
	userID, err := pathID(c, "userId")
	if err != nil {
		return badRequest(c, "userId 경로 값이 올바르지 않습니다")
	}
	var req model.DeductPointRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "요청 본문을 해석할 수 없습니다")
	}
	if err := h.validate.Struct(&req); err != nil {
		return fail(c, err)
	}

	b, err := h.points.Deduct(c.Context(), userID, req.Amount, req.OrderID, req.Description)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, balanceResponse(b))
}

// Histories handles GET /api/v1/points/:userId/histories.
func (h *PointHandler) Histories(c *fiber.Ctx) error {
	userID, err := pathID(c, "userId")
	if err != nil {
		return badRequest(c, "userId 경로 값이 올바르지 않습니다")
	}
	histories, err := h.points.GetHistories(c.Context(), userID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, histories)
}
