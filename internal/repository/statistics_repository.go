package repository

import (
	"context"
	"fmt"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// StatisticsRepository provides data access for durable product statistics
// and the popularity ranking table.
type StatisticsRepository struct {
	pool database.TxQuerier
}

// NewStatisticsRepository creates a StatisticsRepository.
func NewStatisticsRepository(pool database.TxQuerier) *StatisticsRepository {
	return &StatisticsRepository{pool: pool}
}

// ApplyDeltas folds counter deltas into the durable row, creating it on
// first sight. Deltas are commutative, so at-least-once retries are safe
// only when the caller guarantees each delta batch is applied once; the
// rename-then-read handoff upstream provides that.
func (r *StatisticsRepository) ApplyDeltas(ctx context.Context, tx database.TxQuerier, productID, views, sales, wishes int64) error {
	query := `INSERT INTO product_statistics (product_id, view_count, sales_count, wish_count, version)
	          VALUES ($1, $2, $3, $4, 1)
	          ON CONFLICT (product_id) DO UPDATE SET
	            view_count  = product_statistics.view_count  + EXCLUDED.view_count,
	            sales_count = product_statistics.sales_count + EXCLUDED.sales_count,
	            wish_count  = product_statistics.wish_count  + EXCLUDED.wish_count,
	            version     = product_statistics.version + 1,
	            updated_at  = now()`

	if _, err := tx.Exec(ctx, query, productID, views, sales, wishes); err != nil {
		return fmt.Errorf("apply stat deltas for product %d: %w", productID, err)
	}
	return nil
}

// Get returns the durable statistics row for a product, zero-valued when the
// product has never been counted.
func (r *StatisticsRepository) Get(ctx context.Context, productID int64) (*model.ProductStatistics, error) {
	query := `SELECT product_id, view_count, sales_count, wish_count, version, updated_at
	          FROM product_statistics WHERE product_id = $1`

	var s model.ProductStatistics
	err := r.pool.QueryRow(ctx, query, productID).Scan(
		&s.ProductID, &s.ViewCount, &s.SalesCount, &s.WishCount, &s.Version, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get statistics for product %d: %w", productID, err)
	}
	return &s, nil
}

// ListByProducts loads durable rows for a set of products.
func (r *StatisticsRepository) ListByProducts(ctx context.Context, productIDs []int64) ([]model.ProductStatistics, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	query := `SELECT product_id, view_count, sales_count, wish_count, version, updated_at
	          FROM product_statistics WHERE product_id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, productIDs)
	if err != nil {
		return nil, fmt.Errorf("list statistics: %w", err)
	}
	defer rows.Close()

	var stats []model.ProductStatistics
	for rows.Next() {
		var s model.ProductStatistics
		if err := rows.Scan(&s.ProductID, &s.ViewCount, &s.SalesCount, &s.WishCount, &s.Version, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan statistics row: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statistics rows: %w", err)
	}
	return stats, nil
}

// UpsertRanking stores the recomputed popularity score for a product.
func (r *StatisticsRepository) UpsertRanking(ctx context.Context, q database.TxQuerier, productID int64, score float64) error {
	query := `INSERT INTO product_rankings (product_id, score, computed_at)
	          VALUES ($1, $2, now())
	          ON CONFLICT (product_id) DO UPDATE SET score = EXCLUDED.score, computed_at = now()`

	if _, err := q.Exec(ctx, query, productID, score); err != nil {
		return fmt.Errorf("upsert ranking for product %d: %w", productID, err)
	}
	return nil
}

// TopRanked returns the highest-scoring products.
func (r *StatisticsRepository) TopRanked(ctx context.Context, limit int) ([]model.PopularProduct, error) {
	query := `SELECT product_id, score FROM product_rankings ORDER BY score DESC, product_id LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("top ranked products: %w", err)
	}
	defer rows.Close()

	var products []model.PopularProduct
	for rows.Next() {
		var p model.PopularProduct
		if err := rows.Scan(&p.ProductID, &p.Score); err != nil {
			return nil, fmt.Errorf("scan ranking row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranking rows: %w", err)
	}

	if products == nil {
		products = []model.PopularProduct{}
	}
	return products, nil
}
