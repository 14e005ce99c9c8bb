package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
)

// IssueAdmitter is the slice of the issuance engine the handler needs.
type IssueAdmitter interface {
	Issue(ctx context.Context, couponID, userID int64) (*model.IssueCouponResult, error)
}

// CouponHandler serves the coupon issuance endpoint.
type CouponHandler struct {
	issuer IssueAdmitter
}

// NewCouponHandler creates a CouponHandler.
func NewCouponHandler(issuer IssueAdmitter) *CouponHandler {
	return &CouponHandler{issuer: issuer}
}

// Issue handles POST /api/v1/coupons/:id/issue. Admission is decided
// synchronously against the memory store; the durable row lands when the
// drain worker picks the queue entry up.
func (h *CouponHandler) Issue(c *fiber.Ctx) error {
	couponID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "id 경로 값이 올바르지 않습니다")
	}
	userID, err := headerUserID(c)
	if err != nil {
		return badRequest(c, "인증 정보가 없습니다")
	}

	result, err := h.issuer.Issue(c.Context(), couponID, userID)
	if err != nil {
		return fail(c, err)
	}

	status := fiber.StatusAccepted
	if result.Status != model.IssueAccepted {
		status = fiber.StatusConflict
	}
	return ok(c, status, result)
}
