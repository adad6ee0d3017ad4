package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrConcurrencyConflict     = errors.New("concurrent update, re-read and retry")
	ErrReservationNotFound     = errors.New("reservation not found")
	ErrInvalidReservationState = errors.New("invalid reservation state")
	ErrValidation              = errors.New("validation failed")
	ErrStockNotFound           = errors.New("stock record not found")
)

type InsufficientStockError struct {
	ProductID  string
	LocationID string
	Available  int
	Requested  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s at %s (available %d, requested %d)",
		e.ProductID, e.LocationID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type ReservationNotFoundError struct{ ID string }

func (e *ReservationNotFoundError) Error() string { return "reservation not found: " + e.ID }

func (e *ReservationNotFoundError) Is(target error) bool { return target == ErrReservationNotFound }

type InvalidReservationStateError struct {
	ID        string
	Current   ReservationStatus
	Attempted string
	Expired   bool
}

func (e *InvalidReservationStateError) Error() string {
	if e.Expired && e.Current == StatusActive {
		return fmt.Sprintf("reservation %s cannot %s: validity window has passed", e.ID, e.Attempted)
	}
	return fmt.Sprintf("reservation %s cannot %s from %s", e.ID, e.Attempted, e.Current)
}

func (e *InvalidReservationStateError) Is(target error) bool {
	return target == ErrInvalidReservationState
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }
