package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// DeliveryStore defines the delivery data access the service needs.
type DeliveryStore interface {
	InsertIfAbsent(ctx context.Context, tx database.TxQuerier, orderID int64) (bool, error)
}

// CartStore defines the cart data access the service needs.
type CartStore interface {
	DeleteItems(ctx context.Context, q database.TxQuerier, userID int64, productIDs []int64) error
}

// FulfillmentService covers the post-payment side effects that need no saga
// of their own: creating the delivery and clearing purchased cart lines.
// Both operations are naturally idempotent.
type FulfillmentService struct {
	db         DB
	deliveries DeliveryStore
	carts      CartStore
}

// NewFulfillmentService creates a FulfillmentService.
func NewFulfillmentService(db DB, deliveries DeliveryStore, carts CartStore) *FulfillmentService {
	return &FulfillmentService{db: db, deliveries: deliveries, carts: carts}
}

// CreateDelivery creates the PREPARING delivery for a paid order. The unique
// constraint on order_id absorbs redelivered events.
func (s *FulfillmentService) CreateDelivery(ctx context.Context, orderID int64) error {
	created, err := s.deliveries.InsertIfAbsent(ctx, s.db, orderID)
	if err != nil {
		return err
	}
	if created {
		log.Info().Int64("order_id", orderID).Msg("delivery created")
	}
	return nil
}

// ClearCart removes the purchased products from the user's cart.
func (s *FulfillmentService) ClearCart(ctx context.Context, userID int64, productIDs []int64) error {
	return s.carts.DeleteItems(ctx, s.db, userID, productIDs)
}
