package shared

import "errors"

var (
	// ErrNotFound indicates a missing quotation, order or product.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor lacks ownership or role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition indicates an operation attempted outside its required source status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrValidation indicates a missing or malformed required field.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates requested quantity exceeds available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrExpired indicates a customer decision attempted past the validity window.
	ErrExpired = errors.New("quotation expired")
	// ErrConflict indicates a concurrent update was detected (optimistic locking only).
	ErrConflict = errors.New("concurrent update conflict")
)
