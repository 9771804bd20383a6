package models

import "errors"

// Sentinel errors for Order invariant violations (§3).
var (
	errFilledExceedsQuantity = errors.New("models: filled_qty exceeds quantity")
	errFilledStatusMismatch  = errors.New("models: filled order must have filled_qty == quantity")
)

// ErrNotFound is returned by the store when an id is unknown (NotFoundError, §7).
var ErrNotFound = errors.New("models: not found")
