package model

import "time"

// ProductStatistics is the durable fold of view/sale/wish events.
type ProductStatistics struct {
	ProductID  int64     `json:"product_id"`
	ViewCount  int64     `json:"view_count"`
	SalesCount int64     `json:"sales_count"`
	WishCount  int64     `json:"wish_count"`
	Version    int64     `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Popularity weights: score = 0.4*sales + 0.3*views + 0.3*wishes.
const (
	PopularityWeightSales = 0.4
	PopularityWeightViews = 0.3
	PopularityWeightWish  = 0.3
)

// PopularityScore computes the ranking score from the durable counters.
func (s *ProductStatistics) PopularityScore() float64 {
	return PopularityWeightSales*float64(s.SalesCount) +
		PopularityWeightViews*float64(s.ViewCount) +
		PopularityWeightWish*float64(s.WishCount)
}

// PopularProduct is one entry of the popularity ranking read path.
type PopularProduct struct {
	ProductID int64   `json:"product_id"`
	Score     float64 `json:"score"`
}
