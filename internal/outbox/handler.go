// Package outbox implements the transactional outbox: the in-transaction
// writer, the immutable handler registry, the polling dispatcher with retry
// and DLQ, and the DLQ monitor.
package outbox

import (
	"context"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
)

// Handler consumes outbox events. Implementations MUST be idempotent:
// delivery is at-least-once and redelivery of an already-applied event must
// be a no-op.
type Handler interface {
	// Name identifies the handler in logs and the dedup table.
	Name() string
	// SupportedEventTypes lists the event types this handler consumes.
	SupportedEventTypes() []string
	// Priority orders handlers for one event type; lower runs first.
	Priority() int
	// SupportsBatch reports whether the dispatcher should hand over the
	// whole per-type slice instead of one event at a time.
	SupportsBatch() bool
	// Handle processes a single event.
	Handle(ctx context.Context, e model.OutboxEvent) error
	// HandleBatch processes a per-type slice; its outcome is all-or-nothing
	// for the slice. Only called when SupportsBatch is true.
	HandleBatch(ctx context.Context, events []model.OutboxEvent) error
}

// HandleBatchWith is the default HandleBatch body: it applies h.Handle per
// event, stopping at the first error. Handlers that do not need true
// batching delegate to it.
func HandleBatchWith(ctx context.Context, h Handler, events []model.OutboxEvent) error {
	for _, e := range events {
		if err := h.Handle(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
