package outbox

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
)

// store is the slice of OutboxRepository the dispatcher needs.
type store interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkProcessed(ctx context.Context, eventID int64) error
	RecordFailure(ctx context.Context, eventID int64, errMsg string) (int, error)
	MoveToDLQ(ctx context.Context, e *model.OutboxEvent, errMsg string) error
}

// Dispatcher polls unprocessed outbox events and routes them to registered
// handlers. Delivery is at-least-once; handlers own idempotency.
type Dispatcher struct {
	store     store
	registry  *Registry
	batchSize int
	maxRetry  int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(st store, registry *Registry, batchSize, maxRetry int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxRetry <= 0 {
		maxRetry = model.MaxOutboxRetry
	}
	return &Dispatcher{store: st, registry: registry, batchSize: batchSize, maxRetry: maxRetry}
}

// RunCycle executes one dispatch cycle: claim a batch, group by event type,
// run handlers, record outcomes. Handler errors are converted to per-event
// failures; errors outside handlers abort the cycle and are returned for the
// scheduler to log.
func (d *Dispatcher) RunCycle(ctx context.Context) error {
	events, err := d.store.FetchUnprocessed(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	// Partition by event type, preserving id order inside each group.
	groups := make(map[string][]model.OutboxEvent)
	var order []string
	for _, e := range events {
		if _, ok := groups[e.EventType]; !ok {
			order = append(order, e.EventType)
		}
		groups[e.EventType] = append(groups[e.EventType], e)
	}

	for _, eventType := range order {
		d.dispatchGroup(ctx, eventType, groups[eventType])
	}
	return nil
}

// dispatchGroup runs every handler for one event type over its slice and
// records the per-event outcomes.
func (d *Dispatcher) dispatchGroup(ctx context.Context, eventType string, events []model.OutboxEvent) {
	handlers := d.registry.HandlersFor(eventType)
	if len(handlers) == 0 {
		// No handler will ever appear at runtime; the registry is immutable.
		for i := range events {
			d.toDLQ(ctx, &events[i], "no handler registered for event type "+eventType)
		}
		return
	}

	// failed[eventID] holds the first failure message for that event.
	failed := make(map[int64]string)

	for _, h := range handlers {
		if h.SupportsBatch() {
			// Skip events already failed by an earlier (higher priority) handler.
			pending := make([]model.OutboxEvent, 0, len(events))
			for _, e := range events {
				if _, bad := failed[e.ID]; !bad {
					pending = append(pending, e)
				}
			}
			if len(pending) == 0 {
				continue
			}
			if err := d.safeHandleBatch(ctx, h, pending); err != nil {
				// Batch outcome is all-or-nothing for the slice.
				msg := fmt.Sprintf("%s: %v", h.Name(), err)
				for _, e := range pending {
					failed[e.ID] = msg
				}
			}
			continue
		}

		for _, e := range events {
			if _, bad := failed[e.ID]; bad {
				continue
			}
			if err := d.safeHandle(ctx, h, e); err != nil {
				failed[e.ID] = fmt.Sprintf("%s: %v", h.Name(), err)
			}
		}
	}

	for i := range events {
		e := &events[i]
		if msg, bad := failed[e.ID]; bad {
			d.recordFailure(ctx, e, msg)
			continue
		}
		if err := d.store.MarkProcessed(ctx, e.ID); err != nil {
			log.Error().Err(err).Int64("event_id", e.ID).Str("event_type", e.EventType).
				Msg("failed to mark event processed")
		}
	}
}

// safeHandle invokes a handler, converting panics into errors so one broken
// handler cannot take down the dispatcher.
func (d *Dispatcher) safeHandle(ctx context.Context, h Handler, e model.OutboxEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, e)
}

func (d *Dispatcher) safeHandleBatch(ctx context.Context, h Handler, events []model.OutboxEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.HandleBatch(ctx, events)
}

// recordFailure bumps the retry counter, or moves the event to the DLQ once
// the retry budget is spent.
func (d *Dispatcher) recordFailure(ctx context.Context, e *model.OutboxEvent, msg string) {
	if e.RetryCount >= d.maxRetry {
		d.toDLQ(ctx, e, msg)
		return
	}

	retryCount, err := d.store.RecordFailure(ctx, e.ID, msg)
	if err != nil {
		log.Error().Err(err).Int64("event_id", e.ID).Msg("failed to record event failure")
		return
	}
	log.Warn().
		Int64("event_id", e.ID).
		Str("event_type", e.EventType).
		Int("retry_count", retryCount).
		Str("error", msg).
		Msg("event handling failed, will retry")
}

func (d *Dispatcher) toDLQ(ctx context.Context, e *model.OutboxEvent, msg string) {
	if err := d.store.MoveToDLQ(ctx, e, msg); err != nil {
		log.Error().Err(err).Int64("event_id", e.ID).Msg("failed to move event to dlq")
		return
	}
	log.Error().
		Int64("event_id", e.ID).
		Str("event_type", e.EventType).
		Str("aggregate_id", e.AggregateID).
		Str("error", msg).
		Msg("event moved to dlq")
}
