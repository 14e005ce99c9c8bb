package model

import "time"

// Inventory tracks stock for one product. Invariant:
// 0 <= ReservedQuantity <= Quantity.
type Inventory struct {
	ProductID        int64     `json:"product_id"`
	Quantity         int64     `json:"quantity"`
	ReservedQuantity int64     `json:"reserved_quantity"`
	Version          int64     `json:"-"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Available returns the sellable quantity.
func (i *Inventory) Available() int64 {
	return i.Quantity - i.ReservedQuantity
}

// Delivery is created once per confirmed order.
type Delivery struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	Status    string    `json:"status"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery statuses.
const (
	DeliveryPreparing = "PREPARING"
	DeliveryShipped   = "SHIPPED"
	DeliveryDelivered = "DELIVERED"
)

// CartItem is one product held in a user's cart.
type CartItem struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}
