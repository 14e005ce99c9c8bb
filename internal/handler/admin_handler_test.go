package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDLQAdmin struct {
	resolveFn func(dlqID int64, note string) error
	reportFn  func() (string, error)
}

func (m *mockDLQAdmin) ResolveDLQ(ctx context.Context, dlqID int64, note string) error {
	return m.resolveFn(dlqID, note)
}

func (m *mockDLQAdmin) Report(ctx context.Context) (string, error) {
	return m.reportFn()
}

func adminApp(m *mockDLQAdmin) *fiber.App {
	app := fiber.New()
	h := NewAdminHandler(m, m)
	app.Post("/api/v1/admin/dlq/:id/resolve", h.ResolveDLQ)
	app.Get("/api/v1/admin/dlq/report", h.DLQReport)
	return app
}

func TestAdminHandler_ResolveDLQ(t *testing.T) {
	app := adminApp(&mockDLQAdmin{resolveFn: func(dlqID int64, note string) error {
		assert.Equal(t, int64(7), dlqID)
		assert.Equal(t, "replayed manually", note)
		return nil
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/admin/dlq/7/resolve",
		fiber.Map{"note": "replayed manually"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
}

func TestAdminHandler_ResolveDLQ_NoBody(t *testing.T) {
	app := adminApp(&mockDLQAdmin{resolveFn: func(dlqID int64, note string) error {
		assert.Empty(t, note)
		return nil
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/admin/dlq/7/resolve", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
}

func TestAdminHandler_ResolveDLQ_BadID(t *testing.T) {
	called := false
	app := adminApp(&mockDLQAdmin{resolveFn: func(dlqID int64, note string) error {
		called = true
		return nil
	}})

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/admin/dlq/abc/resolve", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.False(t, called)
}

func TestAdminHandler_DLQReport(t *testing.T) {
	app := adminApp(&mockDLQAdmin{reportFn: func() (string, error) {
		return "dlq report: no unresolved events", nil
	}})

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/admin/dlq/report", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)
	assert.Contains(t, string(env.Data), "no unresolved events")
}

func TestAdminHandler_DLQReport_Error(t *testing.T) {
	app := adminApp(&mockDLQAdmin{reportFn: func() (string, error) {
		return "", errors.New("store unavailable")
	}})

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/admin/dlq/report", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INTERNAL001", env.Error.Code)
}
