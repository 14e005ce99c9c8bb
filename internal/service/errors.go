package service

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// DomainError carries a stable machine-readable code plus optional data for
// the caller. Services return these instead of using panics for control flow;
// call sites decide whether to bubble, compensate, or translate.
type DomainError struct {
	Code    string
	Message string
	Status  int // HTTP status the handler layer maps to
	Data    map[string]any
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on the stable code so wrapped and data-enriched copies still
// compare equal to their sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// WithData returns a copy of the error carrying caller-facing context.
func (e *DomainError) WithData(data map[string]any) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Status: e.Status, Data: data}
}

// Point errors.
var (
	ErrInsufficientBalance = &DomainError{Code: "POINT001", Message: "포인트 잔액이 부족합니다", Status: fiber.StatusConflict}
	ErrMaxBalanceExceeded  = &DomainError{Code: "POINT002", Message: "최대 보유 가능 포인트를 초과합니다", Status: fiber.StatusBadRequest}
	ErrInvalidPointAmount  = &DomainError{Code: "POINT003", Message: "유효하지 않은 포인트 금액입니다", Status: fiber.StatusBadRequest}
	ErrUserPointNotFound   = &DomainError{Code: "POINT004", Message: "포인트 정보를 찾을 수 없습니다", Status: fiber.StatusNotFound}
	ErrMinimumUseAmount    = &DomainError{Code: "POINT005", Message: "최소 사용 포인트 미만입니다", Status: fiber.StatusBadRequest}
)

// Payment errors.
var (
	ErrAmountMismatch        = &DomainError{Code: "PAYMENT001", Message: "결제 금액이 일치하지 않습니다", Status: fiber.StatusBadRequest}
	ErrGatewayFailed         = &DomainError{Code: "PAYMENT003", Message: "결제 게이트웨이 요청에 실패했습니다", Status: fiber.StatusPaymentRequired}
	ErrAlreadyPaidOrder      = &DomainError{Code: "PAYMENT004", Message: "이미 결제된 주문입니다", Status: fiber.StatusConflict}
	ErrDailyUseLimitExceeded = &DomainError{Code: "PAYMENT005", Message: "일일 포인트 사용 한도를 초과했습니다", Status: fiber.StatusTooManyRequests}
)

// Order / user errors.
var (
	ErrUserNotFound       = &DomainError{Code: "USER001", Message: "사용자를 찾을 수 없습니다", Status: fiber.StatusNotFound}
	ErrOrderNotFound      = &DomainError{Code: "ORDER001", Message: "주문을 찾을 수 없습니다", Status: fiber.StatusNotFound}
	ErrInvalidOrderStatus = &DomainError{Code: "ORDER002", Message: "허용되지 않는 주문 상태 전이입니다", Status: fiber.StatusConflict}
)

// Coupon errors.
var (
	ErrCouponNotFound  = &DomainError{Code: "COUPON001", Message: "쿠폰을 찾을 수 없습니다", Status: fiber.StatusNotFound}
	ErrAlreadyIssued   = &DomainError{Code: "COUPON002", Message: "이미 발급받은 쿠폰입니다", Status: fiber.StatusConflict}
	ErrCouponExhausted = &DomainError{Code: "COUPON003", Message: "쿠폰이 모두 소진되었습니다", Status: fiber.StatusConflict}
	ErrCouponNotUsable = &DomainError{Code: "COUPON004", Message: "사용할 수 없는 쿠폰입니다", Status: fiber.StatusConflict}
)

// Product errors.
var (
	ErrProductNotFound = &DomainError{Code: "PRODUCT001", Message: "상품을 찾을 수 없습니다", Status: fiber.StatusNotFound}
)

// Inventory errors.
var (
	ErrInventoryNotFound     = &DomainError{Code: "INVENTORY001", Message: "재고 정보를 찾을 수 없습니다", Status: fiber.StatusNotFound}
	ErrInsufficientInventory = &DomainError{Code: "INVENTORY002", Message: "재고가 부족합니다", Status: fiber.StatusConflict}
)

// Concurrency errors.
var (
	ErrConcurrencyConflict = &DomainError{Code: "CONCURRENCY001", Message: "동시성 충돌이 발생했습니다", Status: fiber.StatusConflict}
	ErrLockTimeout         = &DomainError{Code: "CONCURRENCY002", Message: "락 획득에 실패했습니다", Status: fiber.StatusConflict}
)
