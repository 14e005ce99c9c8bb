package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
)

// WarmedLimits are the popular-product page sizes kept hot in the cache.
var WarmedLimits = []int{5, 10, 20}

// cacheTTL outlives one fold cycle so a delayed warmer never leaves a gap.
const cacheTTL = 35 * time.Minute

func popularCacheKey(limit int) string {
	return fmt.Sprintf("ecom:cache:popular:%d", limit)
}

// Popular serves the popular-products read path: cache first, durable
// ranking on miss, and a warmer that re-populates the caches after each
// fold.
type Popular struct {
	client redis.UniversalClient
	store  Store
}

// NewPopular creates the read path.
func NewPopular(client redis.UniversalClient, store Store) *Popular {
	return &Popular{client: client, store: store}
}

// Products returns the top products by popularity score.
func (p *Popular) Products(ctx context.Context, limit int) ([]model.PopularProduct, error) {
	if limit <= 0 {
		limit = 10
	}

	cached, err := p.client.Get(ctx, popularCacheKey(limit)).Result()
	if err == nil {
		var products []model.PopularProduct
		if jsonErr := json.Unmarshal([]byte(cached), &products); jsonErr == nil {
			return products, nil
		}
		// Corrupt cache entry falls through to the durable read.
	} else if err != redis.Nil {
		log.Warn().Err(err).Int("limit", limit).Msg("popular cache read failed, serving from db")
	}

	products, err := p.store.TopRanked(ctx, limit)
	if err != nil {
		return nil, err
	}
	p.fill(ctx, limit, products)
	return products, nil
}

// Warm evicts and re-populates every warmed page size from the durable
// ranking. Called after each fold pass.
func (p *Popular) Warm(ctx context.Context) error {
	for _, limit := range WarmedLimits {
		products, err := p.store.TopRanked(ctx, limit)
		if err != nil {
			return err
		}
		p.fill(ctx, limit, products)
	}
	return nil
}

func (p *Popular) fill(ctx context.Context, limit int, products []model.PopularProduct) {
	data, err := json.Marshal(products)
	if err != nil {
		return
	}
	if err := p.client.Set(ctx, popularCacheKey(limit), data, cacheTTL).Err(); err != nil {
		log.Warn().Err(err).Int("limit", limit).Msg("popular cache write failed")
	}
}
