package repository

import (
	"context"
	"fmt"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// ProductRepository reads the product catalog.
type ProductRepository struct {
	pool database.TxQuerier
}

// NewProductRepository creates a ProductRepository.
func NewProductRepository(pool database.TxQuerier) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// ListByIDs returns the products for the given ids, keyed by id. Missing
// products are simply absent from the map.
func (r *ProductRepository) ListByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	products := make(map[int64]model.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, name, price, gift_wrap_price, created_at FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.GiftWrapPrice, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}
