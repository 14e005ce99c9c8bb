package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/event"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// eventSource identifies this service in envelope source fields.
const eventSource = "ecommerce-api"

// appender is the slice of OutboxRepository the writer needs.
type appender interface {
	Append(ctx context.Context, tx database.TxQuerier, eventType, aggregateType, aggregateID string, payload []byte) (int64, error)
}

// Writer appends domain events inside the caller's transaction. The append
// is synchronous and deterministic; the row commits or rolls back together
// with the aggregate change.
type Writer struct {
	repo appender
}

// NewWriter creates a Writer on top of the outbox repository.
func NewWriter(repo appender) *Writer {
	return &Writer{repo: repo}
}

// Append wraps payload in a CloudEvents envelope and inserts the event row
// using the caller's transaction. Returns the assigned event id.
func (w *Writer) Append(ctx context.Context, tx database.TxQuerier, eventType, aggregateType, aggregateID string, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	// Payloads carry their own correlation id; mirror it onto the envelope.
	var probe struct {
		CorrelationID string `json:"correlationId"`
	}
	_ = json.Unmarshal(data, &probe)

	env, err := json.Marshal(event.Wrap(eventSource, eventType, aggregateID, probe.CorrelationID, data))
	if err != nil {
		return 0, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return w.repo.Append(ctx, tx, eventType, aggregateType, aggregateID, env)
}
