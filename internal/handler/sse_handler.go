package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/notifier"
)

// heartbeatInterval keeps intermediaries from closing an idle SSE stream.
const heartbeatInterval = 15 * time.Second

// SSEHandler serves GET /api/sse/subscribe/:userId as a server-sent event
// stream fed by the notifier hub.
type SSEHandler struct {
	hub *notifier.Hub
}

// NewSSEHandler creates an SSEHandler.
func NewSSEHandler(hub *notifier.Hub) *SSEHandler {
	return &SSEHandler{hub: hub}
}

// Subscribe upgrades the request to an event stream. The stream opens with a
// "connected" event and then forwards the user's notifications until the
// client disconnects.
func (h *SSEHandler) Subscribe(c *fiber.Ctx) error {
	userID, err := pathID(c, "userId")
	if err != nil {
		return badRequest(c, "userId 경로 값이 올바르지 않습니다")
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ch, cancel := h.hub.Subscribe(userID)
	done := c.Context().Done()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		if err := writeEvent(w, notifier.Notification{
			Kind:   notifier.KindConnected,
			UserID: userID,
			At:     time.Now(),
		}); err != nil {
			return
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-done:
				return
			case n := <-ch:
				if err := writeEvent(w, n); err != nil {
					log.Debug().Int64("user_id", userID).Err(err).Msg("sse client gone")
					return
				}
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, n notifier.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Kind, data); err != nil {
		return err
	}
	return w.Flush()
}
