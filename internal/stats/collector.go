// Package stats implements the event-sourced statistics pipeline: hot
// counters and per-hour logs in the memory store, a periodic fold into
// durable counters, and the popularity ranking with its warmed caches.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// Kind is the statistic event kind.
type Kind string

const (
	KindView Kind = "view"
	KindSale Kind = "sales"
	KindWish Kind = "wish"
)

// logRetention bounds orphaned hour logs if folding stops entirely.
const logRetention = 72 * time.Hour

// DB combines querying with transaction start.
type DB interface {
	database.TxQuerier
	database.TxBeginner
}

// Store is the durable side of the pipeline.
type Store interface {
	ApplyDeltas(ctx context.Context, tx database.TxQuerier, productID, views, sales, wishes int64) error
	ListByProducts(ctx context.Context, productIDs []int64) ([]model.ProductStatistics, error)
	UpsertRanking(ctx context.Context, q database.TxQuerier, productID int64, score float64) error
	TopRanked(ctx context.Context, limit int) ([]model.PopularProduct, error)
}

func counterKey(kind Kind, productID int64) string {
	return fmt.Sprintf("ecom:stat:rt:%s:%d", kind, productID)
}

func logKey(hour int64) string {
	return fmt.Sprintf("ecom:stat:log:%d", hour)
}

// scratchKey is the fold worker's private copy of an hour log.
func scratchKey(hour int64) string {
	return logKey(hour) + ":folding"
}

func hourOf(t time.Time) int64 {
	return t.Unix() / 3600
}

// logEntry is one ingested event in the hour log.
type logEntry struct {
	Kind      Kind  `json:"kind"`
	ProductID int64 `json:"productId"`
	Count     int64 `json:"count"`
	Timestamp int64 `json:"ts"`
}

// Collector is the hot ingest path. Each event lands twice: a counter bump
// for realtime reads and a log append for the durable fold.
type Collector struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewCollector creates a Collector.
func NewCollector(client redis.UniversalClient) *Collector {
	return &Collector{client: client, now: time.Now}
}

// RecordView counts one product view.
func (c *Collector) RecordView(ctx context.Context, productID int64) error {
	return c.record(ctx, KindView, productID, 1)
}

// RecordSale counts sold units for a product.
func (c *Collector) RecordSale(ctx context.Context, productID int64, quantity int) error {
	return c.record(ctx, KindSale, productID, quantity)
}

// RecordWish counts one wishlist add.
func (c *Collector) RecordWish(ctx context.Context, productID int64) error {
	return c.record(ctx, KindWish, productID, 1)
}

func (c *Collector) record(ctx context.Context, kind Kind, productID int64, count int) error {
	if count <= 0 {
		return nil
	}
	now := c.now()
	entry, err := json.Marshal(logEntry{Kind: kind, ProductID: productID, Count: int64(count), Timestamp: now.Unix()})
	if err != nil {
		return fmt.Errorf("marshal stat entry: %w", err)
	}

	key := logKey(hourOf(now))
	pipe := c.client.TxPipeline()
	pipe.IncrBy(ctx, counterKey(kind, productID), int64(count))
	pipe.RPush(ctx, key, entry)
	pipe.Expire(ctx, key, logRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record %s for product %d: %w", kind, productID, err)
	}
	return nil
}

// RealtimeCount reads the hot counter for a product.
func (c *Collector) RealtimeCount(ctx context.Context, kind Kind, productID int64) (int64, error) {
	n, err := c.client.Get(ctx, counterKey(kind, productID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s counter for product %d: %w", kind, productID, err)
	}
	return n, nil
}
