package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/event"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// InventoryStore defines the stock data access the service needs.
type InventoryStore interface {
	Get(ctx context.Context, q database.TxQuerier, productID int64) (*model.Inventory, error)
	Deduct(ctx context.Context, tx database.TxQuerier, productID, qty int64) error
	Restore(ctx context.Context, tx database.TxQuerier, productID, qty int64) error
}

// DedupStore records (handler, eventID) claims inside a transaction so a
// redelivered event cannot re-apply a non-idempotent movement.
type DedupStore interface {
	ClaimOnce(ctx context.Context, tx database.TxQuerier, handler string, eventID int64) (bool, error)
}

// Dedup handler names. Stock movements are not naturally idempotent, so both
// directions claim their triggering event.
const (
	dedupInventoryDeduct  = "inventory-deduct"
	dedupInventoryShort   = "inventory-insufficient"
	dedupInventoryRestore = "inventory-restore"
)

// InventoryService applies and reverts stock movements for orders. All
// items of an order move in one transaction: a shortfall on any line rolls
// the whole deduction back and raises InventoryInsufficient instead.
type InventoryService struct {
	db     DB
	stocks InventoryStore
	dedup  DedupStore
	events EventWriter
}

// NewInventoryService creates an InventoryService.
func NewInventoryService(db DB, stocks InventoryStore, dedup DedupStore, events EventWriter) *InventoryService {
	return &InventoryService{db: db, stocks: stocks, dedup: dedup, events: events}
}

// Get returns the stock row for a product.
func (s *InventoryService) Get(ctx context.Context, productID int64) (*model.Inventory, error) {
	inv, err := s.stocks.Get(ctx, s.db, productID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInventoryNotFound
	}
	return inv, nil
}

// DeductForOrder removes the order's quantities from stock and co-commits
// StockDeducted, claiming eventID so redelivery is a no-op. On shortfall it
// records the claim together with an InventoryInsufficient event (in a fresh
// transaction, since the deduction rolled back) and returns
// ErrInsufficientInventory.
func (s *InventoryService) DeductForOrder(ctx context.Context, eventID, orderID int64, items []event.OrderItemDelta, correlationID string) error {
	var short *event.InventoryInsufficientPayload

	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		claimed, err := s.dedup.ClaimOnce(ctx, tx, dedupInventoryDeduct, eventID)
		if err != nil {
			return err
		}
		if !claimed {
			log.Debug().Int64("event_id", eventID).Int64("order_id", orderID).
				Msg("stock deduction already applied")
			return nil
		}

		for _, it := range items {
			if err := s.stocks.Deduct(ctx, tx, it.ProductID, int64(it.Quantity)); err != nil {
				if errors.Is(err, model.ErrVersionConflict) {
					inv, getErr := s.stocks.Get(ctx, tx, it.ProductID)
					if getErr != nil {
						return getErr
					}
					var available int64
					if inv != nil {
						available = inv.Available()
					}
					short = &event.InventoryInsufficientPayload{
						OrderID:       orderID,
						ProductID:     it.ProductID,
						Requested:     int64(it.Quantity),
						Available:     available,
						CorrelationID: correlationID,
					}
					return ErrInsufficientInventory
				}
				return err
			}
		}
		_, err = s.events.Append(ctx, tx, event.TypeStockDeducted, event.AggregateInventory,
			aggID(orderID), event.StockDeductedPayload{
				OrderID:       orderID,
				Items:         items,
				CorrelationID: correlationID,
			})
		return err
	})

	if short != nil {
		s.publishInsufficient(ctx, eventID, short)
	}
	return err
}

// RestoreForOrder adds the order's quantities back to stock (cancel
// compensation), claiming eventID against double restores.
func (s *InventoryService) RestoreForOrder(ctx context.Context, eventID, orderID int64, items []event.OrderItemDelta) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		claimed, err := s.dedup.ClaimOnce(ctx, tx, dedupInventoryRestore, eventID)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}

		for _, it := range items {
			if err := s.stocks.Restore(ctx, tx, it.ProductID, int64(it.Quantity)); err != nil {
				return err
			}
		}
		log.Info().Int64("order_id", orderID).Int("items", len(items)).Msg("stock restored")
		return nil
	})
}

// publishInsufficient appends InventoryInsufficient under its own claim. The
// deduct claim rolled back with the deduction, so a redelivered trigger will
// hit the shortfall again; this claim keeps the event from duplicating.
func (s *InventoryService) publishInsufficient(ctx context.Context, eventID int64, payload *event.InventoryInsufficientPayload) {
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		claimed, err := s.dedup.ClaimOnce(ctx, tx, dedupInventoryShort, eventID)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		_, err = s.events.Append(ctx, tx, event.TypeInventoryInsufficient, event.AggregateInventory,
			aggID(payload.OrderID), payload)
		return err
	})
	if err != nil {
		log.Error().Err(err).Int64("order_id", payload.OrderID).
			Msg("append InventoryInsufficient event")
	}
}
