package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/stats"
)

// PopularReader is the cached popular-products read path.
type PopularReader interface {
	Products(ctx context.Context, limit int) ([]model.PopularProduct, error)
}

// StatsIngester records product interactions.
type StatsIngester interface {
	RecordView(ctx context.Context, productID int64) error
	RecordWish(ctx context.Context, productID int64) error
	RealtimeCount(ctx context.Context, kind stats.Kind, productID int64) (int64, error)
}

// ProductHandler serves the product statistics endpoints.
type ProductHandler struct {
	popular PopularReader
	ingest  StatsIngester
}

// NewProductHandler creates a ProductHandler.
func NewProductHandler(popular PopularReader, ingest StatsIngester) *ProductHandler {
	return &ProductHandler{popular: popular, ingest: ingest}
}

// Popular handles GET /api/v1/products/popular?limit=N.
func (h *ProductHandler) Popular(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	if limit <= 0 || limit > 100 {
		return badRequest(c, "limit 값이 올바르지 않습니다")
	}
	products, err := h.popular.Products(c.Context(), limit)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusOK, products)
}

// RecordView handles POST /api/v1/products/:id/view.
func (h *ProductHandler) RecordView(c *fiber.Ctx) error {
	productID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "id 경로 값이 올바르지 않습니다")
	}
	if err := h.ingest.RecordView(c.Context(), productID); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusAccepted, nil)
}

// RecordWish handles POST /api/v1/products/:id/wish.
func (h *ProductHandler) RecordWish(c *fiber.Ctx) error {
	productID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "id 경로 값이 올바르지 않습니다")
	}
	if err := h.ingest.RecordWish(c.Context(), productID); err != nil {
		return fail(c, err)
	}
	return ok(c, fiber.StatusAccepted, nil)
}

// RealtimeStats handles GET /api/v1/products/:id/stats.
func (h *ProductHandler) RealtimeStats(c *fiber.Ctx) error {
	productID, err := pathID(c, "id")
	if err != nil {
		return badRequest(c, "id 경로 값이 올바르지 않습니다")
	}

	out := fiber.Map{}
	for _, kind := range []stats.Kind{stats.KindView, stats.KindSale, stats.KindWish} {
		n, err := h.ingest.RealtimeCount(c.Context(), kind, productID)
		if err != nil {
			return fail(c, err)
		}
		out[string(kind)] = n
	}
	return ok(c, fiber.StatusOK, out)
}
