package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// ErrAlreadyProcessed is returned when an outbox row is marked processed twice.
var ErrAlreadyProcessed = errors.New("already processed")

// OutboxPool combines querying with transaction start; *pgxpool.Pool
// implements both.
type OutboxPool interface {
	database.TxQuerier
	database.TxBeginner
}

// OutboxRepository provides data access for outbox events and the DLQ.
type OutboxRepository struct {
	pool OutboxPool
}

// NewOutboxRepository creates an OutboxRepository.
func NewOutboxRepository(pool OutboxPool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Append inserts an unprocessed event inside the caller's transaction.
// All fields must be non-empty; the row becomes visible to the dispatcher
// only when the surrounding transaction commits.
func (r *OutboxRepository) Append(ctx context.Context, tx database.TxQuerier, eventType, aggregateType, aggregateID string, payload []byte) (int64, error) {
	if eventType == "" || aggregateType == "" || aggregateID == "" || len(payload) == 0 {
		return 0, fmt.Errorf("outbox append: empty field (type=%q aggregate=%q/%q payload=%d bytes)",
			eventType, aggregateType, aggregateID, len(payload))
	}

	query := `INSERT INTO outbox_events
	          (event_type, aggregate_type, aggregate_id, payload, processed, retry_count)
	          VALUES ($1, $2, $3, $4, false, 0)
	          RETURNING id`

	var id int64
	if err := tx.QueryRow(ctx, query, eventType, aggregateType, aggregateID, payload).Scan(&id); err != nil {
		return 0, fmt.Errorf("append outbox event %s: %w", eventType, err)
	}
	return id, nil
}

const outboxColumns = `id, event_type, aggregate_type, aggregate_id, payload,
	processed, processed_at, retry_count, COALESCE(error_message, ''), created_at`

// FetchUnprocessed returns up to limit live events in id order. FIFO holds
// per aggregate because an aggregate's ids only grow; no global FIFO claim.
func (r *OutboxRepository) FetchUnprocessed(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	query := `SELECT ` + outboxColumns + `
	          FROM outbox_events WHERE processed = false AND dead = false
	          ORDER BY id LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var e model.OutboxEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.AggregateType, &e.AggregateID, &e.Payload,
			&e.Processed, &e.ProcessedAt, &e.RetryCount, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return events, nil
}

// MarkProcessed flips the row to processed. Marking twice is rejected with
// ErrAlreadyProcessed; processed rows are never mutated again.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, eventID int64) error {
	query := `UPDATE outbox_events
	          SET processed = true, processed_at = now(), error_message = NULL
	          WHERE id = $1 AND processed = false AND dead = false`

	tag, err := r.pool.Exec(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("mark event %d processed: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark event %d processed: %w", eventID, ErrAlreadyProcessed)
	}
	return nil
}

// RecordFailure increments the retry counter and stores the error message.
// Returns the new retry count.
func (r *OutboxRepository) RecordFailure(ctx context.Context, eventID int64, errMsg string) (int, error) {
	query := `UPDATE outbox_events
	          SET retry_count = retry_count + 1, error_message = $1
	          WHERE id = $2 AND processed = false AND dead = false
	          RETURNING retry_count`

	var retryCount int
	err := r.pool.QueryRow(ctx, query, errMsg, eventID).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("record failure for event %d: %w", eventID, ErrAlreadyProcessed)
		}
		return 0, fmt.Errorf("record failure for event %d: %w", eventID, err)
	}
	return retryCount, nil
}

// MoveToDLQ snapshots the event into the DLQ and marks the original
// terminally failed, in one transaction.
func (r *OutboxRepository) MoveToDLQ(ctx context.Context, e *model.OutboxEvent, errMsg string) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO outbox_events_dlq
			 (original_event_id, event_type, aggregate_type, aggregate_id, payload, error_message, failed_at, resolved)
			 VALUES ($1, $2, $3, $4, $5, $6, now(), false)`,
			e.ID, e.EventType, e.AggregateType, e.AggregateID, e.Payload, errMsg)
		if err != nil {
			return fmt.Errorf("insert dlq row for event %d: %w", e.ID, err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE outbox_events SET dead = true, error_message = $1 WHERE id = $2 AND processed = false`,
			errMsg, e.ID)
		if err != nil {
			return fmt.Errorf("mark event %d dead: %w", e.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("mark event %d dead: %w", e.ID, ErrAlreadyProcessed)
		}
		return nil
	})
}

// DeleteProcessedBefore removes processed rows older than the cutoff.
// Cleanup is the only permitted mutation of processed rows.
func (r *OutboxRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM outbox_events WHERE processed = true AND processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountUnresolvedDLQ returns the number of unresolved DLQ rows.
func (r *OutboxRepository) CountUnresolvedDLQ(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_events_dlq WHERE resolved = false`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unresolved dlq rows: %w", err)
	}
	return n, nil
}

// DLQTypeStat summarizes unresolved DLQ rows for one event type.
type DLQTypeStat struct {
	EventType string
	Count     int
	OldestAt  time.Time
}

// UnresolvedDLQStats groups unresolved DLQ rows by event type, oldest first.
func (r *OutboxRepository) UnresolvedDLQStats(ctx context.Context) ([]DLQTypeStat, error) {
	query := `SELECT event_type, COUNT(*), MIN(failed_at)
	          FROM outbox_events_dlq WHERE resolved = false
	          GROUP BY event_type ORDER BY MIN(failed_at)`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dlq stats: %w", err)
	}
	defer rows.Close()

	var stats []DLQTypeStat
	for rows.Next() {
		var s DLQTypeStat
		if err := rows.Scan(&s.EventType, &s.Count, &s.OldestAt); err != nil {
			return nil, fmt.Errorf("scan dlq stat: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dlq stats: %w", err)
	}
	return stats, nil
}

// ResolveDLQ marks a DLQ row handled by an operator.
func (r *OutboxRepository) ResolveDLQ(ctx context.Context, dlqID int64, note string) error {
	query := `UPDATE outbox_events_dlq
	          SET resolved = true, resolution_note = $1, resolved_at = now()
	          WHERE id = $2 AND resolved = false`

	tag, err := r.pool.Exec(ctx, query, note, dlqID)
	if err != nil {
		return fmt.Errorf("resolve dlq row %d: %w", dlqID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resolve dlq row %d: not found or already resolved", dlqID)
	}
	return nil
}
