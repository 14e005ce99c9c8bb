package repository

import (
	"context"
	"fmt"

	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// DedupRepository implements the dedup-table idempotency strategy: handlers
// that have no natural unique key record (handler, event_id) before applying
// side effects, inside the same transaction.
type DedupRepository struct {
	pool database.TxQuerier
}

// NewDedupRepository creates a DedupRepository.
func NewDedupRepository(pool database.TxQuerier) *DedupRepository {
	return &DedupRepository{pool: pool}
}

// ClaimOnce records that handler processed eventID. Returns false when the
// pair was already recorded, i.e. this delivery is a replay.
func (r *DedupRepository) ClaimOnce(ctx context.Context, tx database.TxQuerier, handler string, eventID int64) (bool, error) {
	query := `INSERT INTO processed_events (handler, event_id) VALUES ($1, $2)
	          ON CONFLICT (handler, event_id) DO NOTHING`

	tag, err := tx.Exec(ctx, query, handler, eventID)
	if err != nil {
		return false, fmt.Errorf("claim event %d for handler %s: %w", eventID, handler, err)
	}
	return tag.RowsAffected() > 0, nil
}
