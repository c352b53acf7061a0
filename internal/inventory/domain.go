package inventory

import (
	"errors"
	"time"
)

// Movement is one signed stock change, keyed by a caller-supplied reference.
// The reference makes retries safe: re-applying a movement with a reference
// already on file is a no-op, never a double-count.
type Movement struct {
	ID        int64
	ProductID int64
	Qty       int64
	Ref       string
	PostedAt  time.Time
}

// Level summarises current stock per product.
type Level struct {
	ProductID int64
	Qty       int64
	UpdatedAt time.Time
}

var (
	// ErrNegativeStock triggered when a movement would take stock below zero.
	ErrNegativeStock = errors.New("inventory: negative stock not allowed")
	// ErrInvalidQuantity indicates a zero quantity movement.
	ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")
	// ErrRefRequired indicates a movement without an idempotency reference.
	ErrRefRequired = errors.New("inventory: movement reference required")
	// ErrDuplicateRef indicates the reference was already applied.
	ErrDuplicateRef = errors.New("inventory: movement reference already applied")
)
