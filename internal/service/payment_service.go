package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/jay05410/hanghae10-for-study-sub002/internal/event"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/gateway"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/lock"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/model"
	"github.com/jay05410/hanghae10-for-study-sub002/internal/repository"
	"github.com/jay05410/hanghae10-for-study-sub002/pkg/database"
)

// PaymentStore defines the payment data access the saga needs.
type PaymentStore interface {
	Insert(ctx context.Context, tx database.TxQuerier, p *model.Payment) error
	GetCompletedByOrder(ctx context.Context, q database.TxQuerier, orderID int64) (*model.Payment, error)
}

// OrderConfirmer transitions an order to CONFIRMED inside the saga's
// transaction and emits the analytics event.
type OrderConfirmer interface {
	ConfirmInTx(ctx context.Context, tx database.TxQuerier, orderID int64, correlationID string) error
}

// PaymentService coordinates the mixed-tender payment saga. The invariant
// it protects: the balance is debited and the order confirmed atomically,
// while the external gateway call happens outside any DB transaction. A
// successful gateway charge that cannot be settled locally is compensated
// with a cancel call.
type PaymentService struct {
	db            DB
	orders        OrderStore
	confirmer     OrderConfirmer
	balances      BalanceStore
	payments      PaymentStore
	events        EventWriter
	gw            gateway.Client
	userLocks     *lock.UserLocks
	locker        Locker
	dailyUseLimit int64
}

// NewPaymentService creates a PaymentService.
func NewPaymentService(db DB, orders OrderStore, confirmer OrderConfirmer, balances BalanceStore, payments PaymentStore, events EventWriter, gw gateway.Client, userLocks *lock.UserLocks, locker Locker, dailyUseLimit int64) *PaymentService {
	return &PaymentService{
		db:            db,
		orders:        orders,
		confirmer:     confirmer,
		balances:      balances,
		payments:      payments,
		events:        events,
		gw:            gw,
		userLocks:     userLocks,
		locker:        locker,
		dailyUseLimit: dailyUseLimit,
	}
}

func paymentLockKey(userID int64) string {
	return lock.Key("pay", strconv.FormatInt(userID, 10))
}

// deriveMethod maps the tender split to the recorded payment method.
func deriveMethod(pointAmount, pgAmount int64) model.PaymentMethod {
	switch {
	case pointAmount > 0 && pgAmount > 0:
		return model.PaymentMethodMixed
	case pgAmount > 0:
		return model.PaymentMethodCard
	default:
		return model.PaymentMethodBalance
	}
}

// Process runs the payment saga for one order.
func (s *PaymentService) Process(ctx context.Context, req *model.ProcessPaymentRequest) (*model.PaymentResponse, error) {
	if req.PointAmount < 0 || req.PgAmount < 0 || req.PointAmount+req.PgAmount == 0 {
		return nil, ErrAmountMismatch.WithData(map[string]any{
			"pointAmount": req.PointAmount,
			"pgAmount":    req.PgAmount,
		})
	}

	order, err := s.orders.GetByID(ctx, s.db, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != req.UserID {
		return nil, ErrOrderNotFound
	}
	if p, err := s.payments.GetCompletedByOrder(ctx, s.db, req.OrderID); err != nil {
		return nil, err
	} else if p != nil {
		return nil, ErrAlreadyPaidOrder
	}
	if order.Status != model.OrderPendingPayment && order.Status != model.OrderPending {
		return nil, ErrInvalidOrderStatus.WithData(map[string]any{"status": order.Status})
	}
	if req.PointAmount+req.PgAmount != order.FinalAmount {
		return nil, ErrAmountMismatch.WithData(map[string]any{
			"finalAmount": order.FinalAmount,
			"pointAmount": req.PointAmount,
			"pgAmount":    req.PgAmount,
		})
	}

	var resp *model.PaymentResponse
	unlock := s.userLocks.Lock(req.UserID)
	defer unlock()

	err = s.locker.WithLock(ctx, paymentLockKey(req.UserID), func(ctx context.Context) error {
		var innerErr error
		resp, innerErr = s.run(ctx, order, req)
		return innerErr
	})
	if errors.Is(err, lock.ErrLockTimeout) {
		return nil, ErrLockTimeout
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// run executes the three saga phases while the user lease is held.
func (s *PaymentService) run(ctx context.Context, order *model.Order, req *model.ProcessPaymentRequest) (*model.PaymentResponse, error) {
	// Phase 1: reserve. Verify funds and limits under the row lock and move
	// the order out of PENDING_PAYMENT, but do not debit yet.
	var version int64
	var balanceBefore int64
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := s.balances.CreateIfAbsent(ctx, tx, req.UserID); err != nil {
			return err
		}
		b, err := s.balances.GetForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		if req.PointAmount > 0 {
			used, err := s.balances.SumDailyUse(ctx, tx, req.UserID, startOfDayUTC(time.Now()))
			if err != nil {
				return err
			}
			if used+req.PointAmount > s.dailyUseLimit {
				return ErrDailyUseLimitExceeded.WithData(map[string]any{
					"usedToday":  used,
					"useAmount":  req.PointAmount,
					"dailyLimit": s.dailyUseLimit,
				})
			}
			if b.Balance < req.PointAmount {
				return ErrInsufficientBalance.WithData(map[string]any{
					"currentBalance": b.Balance,
					"pointAmount":    req.PointAmount,
				})
			}
		}
		version = b.Version
		balanceBefore = b.Balance

		if order.Status == model.OrderPendingPayment {
			if err := s.orders.TransitionStatus(ctx, tx, order.ID,
				model.OrderPendingPayment, model.OrderPending, ""); err != nil {
				return translateVersionConflict(err)
			}
			order.Status = model.OrderPending
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Phase 2: the gateway call runs outside any transaction so network
	// latency never extends the row lock.
	var txnID string
	if req.PgAmount > 0 {
		gwReq := gateway.PaymentRequest{
			OrderID:        order.ID,
			Amount:         req.PgAmount,
			IdempotencyKey: order.OrderNumber,
		}
		if req.PgRequest != nil {
			gwReq.Provider = req.PgRequest.Provider
			gwReq.CardType = req.PgRequest.CardType
			gwReq.CardNumber = req.PgRequest.CardNumber
		}

		result, err := s.gw.RequestPayment(ctx, gwReq)
		if err != nil {
			s.publishFailed(ctx, order, "gateway request failed: "+err.Error())
			return nil, ErrGatewayFailed
		}
		if !result.Success {
			s.publishFailed(ctx, order, "gateway declined: "+result.ErrorCode)
			return nil, ErrGatewayFailed.WithData(map[string]any{"errorCode": result.ErrorCode})
		}
		txnID = result.TransactionID
	}

	// Phase 3: settle. Re-lock the balance, verify nothing moved since
	// phase 1, then debit, persist the payment, confirm the order, and
	// append PaymentCompleted, all in one transaction.
	method := deriveMethod(req.PointAmount, req.PgAmount)
	payment := &model.Payment{
		OrderID:       order.ID,
		UserID:        req.UserID,
		Method:        method,
		Status:        model.PaymentCompleted,
		ExternalTxnID: txnID,
		Amount:        order.FinalAmount,
		PointAmount:   req.PointAmount,
		GatewayAmount: req.PgAmount,
	}

	balanceAfter := balanceBefore
	err = database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		b, err := s.balances.GetForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if b.Version != version {
			return ErrConcurrencyConflict
		}

		if req.PointAmount > 0 {
			balanceAfter = b.Balance - req.PointAmount
			if err := s.balances.UpdateWithVersion(ctx, tx, req.UserID, balanceAfter, version); err != nil {
				return translateVersionConflict(err)
			}
			if err := s.balances.InsertHistory(ctx, tx, &model.BalanceHistory{
				UserID:        req.UserID,
				Amount:        -req.PointAmount,
				Type:          model.BalanceUse,
				BalanceBefore: b.Balance,
				BalanceAfter:  balanceAfter,
				OrderID:       &order.ID,
				Description:   "주문 결제",
			}); err != nil {
				return err
			}
		}

		if err := s.payments.Insert(ctx, tx, payment); err != nil {
			if errors.Is(err, repository.ErrDuplicateRow) {
				return ErrAlreadyPaidOrder
			}
			return err
		}

		if err := s.confirmer.ConfirmInTx(ctx, tx, order.ID, order.OrderNumber); err != nil {
			return err
		}

		_, err = s.events.Append(ctx, tx, event.TypePaymentCompleted, event.AggregatePayment,
			aggID(payment.OrderID), event.PaymentCompletedPayload{
				OrderID:       order.ID,
				UserID:        req.UserID,
				Amount:        order.FinalAmount,
				Method:        string(method),
				ExternalTxnID: txnID,
				Items:         itemDeltas(order.Items),
				CouponIDs:     order.UsedCouponIDs,
				CorrelationID: order.OrderNumber,
			})
		return err
	})
	if err != nil {
		if txnID != "" {
			s.compensate(order.ID, txnID)
		}
		return nil, err
	}

	log.Info().
		Int64("order_id", order.ID).
		Int64("point_amount", req.PointAmount).
		Int64("pg_amount", req.PgAmount).
		Str("method", string(method)).
		Msg("payment completed")

	return &model.PaymentResponse{
		PaymentID:       payment.ID,
		OrderID:         order.ID,
		TotalAmount:     order.FinalAmount,
		PointAmount:     req.PointAmount,
		PgAmount:        req.PgAmount,
		Status:          model.PaymentCompleted,
		PaidAt:          time.Now(),
		PgTransactionID: txnID,
		BalanceAfter:    balanceAfter,
	}, nil
}

// publishFailed appends PaymentFailed in its own transaction; the order
// moves to FAILED when the event is dispatched.
func (s *PaymentService) publishFailed(ctx context.Context, order *model.Order, reason string) {
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := s.events.Append(ctx, tx, event.TypePaymentFailed, event.AggregatePayment,
			aggID(order.ID), event.PaymentFailedPayload{
				OrderID:       order.ID,
				UserID:        order.UserID,
				Reason:        reason,
				CorrelationID: order.OrderNumber,
			})
		return err
	})
	if err != nil {
		log.Error().Err(err).Int64("order_id", order.ID).Msg("append PaymentFailed event")
	}
}

// compensate reverses a settled gateway charge after a local failure.
// Best effort: the outcome is logged either way and the saga error is
// re-raised by the caller.
func (s *PaymentService) compensate(orderID int64, txnID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := s.gw.CancelPayment(ctx, txnID)
	if err != nil {
		log.Error().Err(err).Int64("order_id", orderID).Str("txn_id", txnID).
			Msg("gateway compensation failed")
		return
	}
	log.Warn().Int64("order_id", orderID).Str("txn_id", txnID).
		Bool("success", result.Success).
		Msg("gateway charge compensated after local failure")
}
