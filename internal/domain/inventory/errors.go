package inventory

import "errors"

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrRowNotFound       = errors.New("ledger row not found")
)
