package model

import "time"

// Product is the catalog read model used for order pricing. Catalog
// management itself lives elsewhere; this service only reads.
type Product struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Price         int64     `json:"price"`
	GiftWrapPrice int64     `json:"gift_wrap_price"`
	CreatedAt     time.Time `json:"created_at"`
}
