package model

import "time"

// MaxOutboxRetry is the retry budget before an event moves to the DLQ.
const MaxOutboxRetry = 5

// OutboxEvent is a durable domain event co-written with its aggregate change.
// Once Processed is true the row is never mutated again except by cleanup.
type OutboxEvent struct {
	ID            int64      `json:"id"`
	EventType     string     `json:"event_type"`
	AggregateType string     `json:"aggregate_type"`
	AggregateID   string     `json:"aggregate_id"`
	Payload       []byte     `json:"payload"`
	Processed     bool       `json:"processed"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	RetryCount    int        `json:"retry_count"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// OutboxEventDLQ is a snapshot of an event that exhausted its retry budget.
type OutboxEventDLQ struct {
	ID              int64      `json:"id"`
	OriginalEventID int64      `json:"original_event_id"`
	EventType       string     `json:"event_type"`
	AggregateType   string     `json:"aggregate_type"`
	AggregateID     string     `json:"aggregate_id"`
	Payload         []byte     `json:"payload"`
	ErrorMessage    string     `json:"error_message"`
	FailedAt        time.Time  `json:"failed_at"`
	Resolved        bool       `json:"resolved"`
	ResolutionNote  string     `json:"resolution_note,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}
