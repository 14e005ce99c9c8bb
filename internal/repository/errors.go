package repository

import "errors"

// ErrDuplicateRow maps PostgreSQL unique violations (23505). Callers decide
// whether a duplicate is an error or an idempotent replay.
var ErrDuplicateRow = errors.New("duplicate row")
