package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/service"
)

// ok writes the success envelope.
func ok(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// fail maps an error to the error envelope. Domain errors carry their own
// status and code; validation errors become a field map; anything else is a
// logged 500 with no internals leaked.
func fail(c *fiber.Ctx, err error) error {
	var derr *service.DomainError
	if errors.As(err, &derr) {
		body := fiber.Map{"code": derr.Code, "message": derr.Message}
		if len(derr.Data) > 0 {
			body["data"] = derr.Data
		}
		return c.Status(derr.Status).JSON(fiber.Map{"success": false, "error": body})
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error": fiber.Map{
				"code":    "VALIDATION001",
				"message": "요청 값이 올바르지 않습니다",
				"data":    fields,
			},
		})
	}

	log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    "INTERNAL001",
			"message": "일시적인 오류가 발생했습니다",
		},
	})
}

// badRequest is the envelope for malformed input outside struct validation.
func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   fiber.Map{"code": "VALIDATION001", "message": message},
	})
}

// pathID parses a positive int64 path parameter.
func pathID(c *fiber.Ctx, name string) (int64, error) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return int64(id), nil
}

// headerUserID reads the authenticated user from the X-User-Id header set by
// the edge. There is no session layer in this service.
func headerUserID(c *fiber.Ctx) (int64, error) {
	raw := c.Get("X-User-Id")
	if raw == "" {
		return 0, errors.New("missing X-User-Id header")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid X-User-Id header")
	}
	return id, nil
}
