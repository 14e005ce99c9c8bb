package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// rankingKey is the live popularity sorted set.
const rankingKey = "ecom:rank:pop"

// deltas accumulates counter movements for one product.
type deltas struct {
	views  int64
	sales  int64
	wishes int64
}

// Folder periodically folds hour logs into durable counters and refreshes
// the popularity ranking. The handoff is rename-then-read: the hour log is
// atomically renamed to a scratch key, persisted from the scratch copy, and
// the scratch deleted only after all chunks committed. A crash mid-fold
// leaves the scratch key behind for the next pass, never loses events.
type Folder struct {
	client    redis.UniversalClient
	db        DB
	store     Store
	chunkSize int
	now       func() time.Time
}

// NewFolder creates a Folder.
func NewFolder(client redis.UniversalClient, db DB, store Store, chunkSize int) *Folder {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &Folder{client: client, db: db, store: store, chunkSize: chunkSize, now: time.Now}
}

// FoldOnce folds the two preceding hour logs (plus any scratch keys left by
// a crashed pass) and refreshes the ranking for every touched product.
// Returns the number of log entries folded.
func (f *Folder) FoldOnce(ctx context.Context) (int, error) {
	h := hourOf(f.now())
	touched := map[int64]struct{}{}
	folded := 0

	for _, hour := range []int64{h - 1, h - 2} {
		n, err := f.foldHour(ctx, hour, touched)
		folded += n
		if err != nil {
			return folded, err
		}
	}

	if err := f.refreshRanking(ctx, touched); err != nil {
		return folded, err
	}
	return folded, nil
}

// foldHour drains one hour's log. A leftover scratch key is folded before
// the live log is renamed over it.
func (f *Folder) foldHour(ctx context.Context, hour int64, touched map[int64]struct{}) (int, error) {
	scratch := scratchKey(hour)

	n, err := f.foldScratch(ctx, scratch, touched)
	if err != nil {
		return n, err
	}

	exists, err := f.client.Exists(ctx, logKey(hour)).Result()
	if err != nil {
		return n, fmt.Errorf("check hour log %d: %w", hour, err)
	}
	if exists == 0 {
		return n, nil
	}
	if err := f.client.Rename(ctx, logKey(hour), scratch).Err(); err != nil {
		return n, fmt.Errorf("rename hour log %d: %w", hour, err)
	}

	m, err := f.foldScratch(ctx, scratch, touched)
	return n + m, err
}

// foldScratch persists one scratch copy and deletes it after the last chunk
// commits.
func (f *Folder) foldScratch(ctx context.Context, scratch string, touched map[int64]struct{}) (int, error) {
	raw, err := f.client.LRange(ctx, scratch, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read scratch %s: %w", scratch, err)
	}
	if len(raw) == 0 {
		return 0, nil
	}

	agg := map[int64]*deltas{}
	for _, item := range raw {
		var entry logEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			log.Error().Str("scratch", scratch).Str("entry", item).Msg("malformed stat entry, skipping")
			continue
		}
		d := agg[entry.ProductID]
		if d == nil {
			d = &deltas{}
			agg[entry.ProductID] = d
		}
		count := entry.Count
		if count == 0 {
			count = 1
		}
		switch entry.Kind {
		case KindView:
			d.views += count
		case KindSale:
			d.sales += count
		case KindWish:
			d.wishes += count
		}
	}

	ids := make([]int64, 0, len(agg))
	for id := range agg {
		ids = append(ids, id)
	}

	for start := 0; start < len(ids); start += f.chunkSize {
		end := start + f.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		err := database.WithTx(ctx, f.db, func(tx pgx.Tx) error {
			for _, id := range chunk {
				d := agg[id]
				if err := f.store.ApplyDeltas(ctx, tx, id, d.views, d.sales, d.wishes); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			// Scratch stays and re-applies next pass. At-least-once:
			// committed chunks may double-count on retry, never lose events.
			return 0, fmt.Errorf("fold chunk of %s: %w", scratch, err)
		}
	}

	for id := range agg {
		touched[id] = struct{}{}
	}
	if err := f.client.Del(ctx, scratch).Err(); err != nil {
		return len(raw), fmt.Errorf("delete scratch %s: %w", scratch, err)
	}
	return len(raw), nil
}

// refreshRanking recomputes scores for the touched products and updates
// both the durable ranking table and the live sorted set.
func (f *Folder) refreshRanking(ctx context.Context, touched map[int64]struct{}) error {
	if len(touched) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}

	rows, err := f.store.ListByProducts(ctx, ids)
	if err != nil {
		return err
	}

	members := make([]redis.Z, 0, len(rows))
	for i := range rows {
		s := &rows[i]
		score := s.PopularityScore()
		if err := f.store.UpsertRanking(ctx, f.db, s.ProductID, score); err != nil {
			return err
		}
		members = append(members, redis.Z{Score: score, Member: s.ProductID})
	}
	if len(members) > 0 {
		if err := f.client.ZAdd(ctx, rankingKey, members...).Err(); err != nil {
			return fmt.Errorf("update ranking zset: %w", err)
		}
	}
	return nil
}
