package model

import "errors"

var (
	// ErrInvalidOrderStatus is returned when a transition is not an edge of
	// the order lifecycle DAG.
	ErrInvalidOrderStatus = errors.New("invalid order status transition")

	// ErrVersionConflict is returned when an optimistic-version update
	// affects zero rows.
	ErrVersionConflict = errors.New("version conflict")
)
