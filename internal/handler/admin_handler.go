package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// DLQAdmin is the operator-facing slice of the outbox DLQ.
type DLQAdmin interface {
	ResolveDLQ(ctx context.Context, dlqID int64, note string) error
}

// DLQReporter builds the textual DLQ report.
type DLQReporter interface {
	Report(ctx context.Context) (string, error)
}

// AdminHandler serves the operator endpoints for the outbox DLQ.
type AdminHandler struct {
	dlq      DLQAdmin
	reporter DLQReporter
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(dlq DLQAdmin, reporter DLQReporter) *AdminHandler {
	return &AdminHandler{dlq: dlq, reporter: reporter}
}

type resolveDLQRequest struct {
	Note string `json:"note"`
}

// ResolveDLQ handles POST /api/v1/admin/dlq/:id/resolve.
func (h *AdminHandler) ResolveDLQ(c *fiber.Ctx) error {
	dlqID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "id 경로 값이 올바르지 않습니다")
	}
	var req resolveDLQRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "요청 본문이 올바르지 않습니다")
		}
	}
	if err := h.dlq.ResolveDLQ(c.Context(), dlqID, req.Note); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, nil)
}

// DLQReport handles GET /api/v1/admin/dlq/report.
func (h *AdminHandler) DLQReport(c *fiber.Ctx) error {
	report, err := h.reporter.Report(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"report": report})
}
