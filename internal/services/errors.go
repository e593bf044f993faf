package services

import (
	"errors"
	"net/http"
)

// Domain errors surfaced by the transactional core. Handlers map these to
// HTTP statuses via StatusForError; everything else is a 500.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrVariantUnavailable = errors.New("variant unavailable")
	ErrVariantRequired    = errors.New("variant is required for this listing")
	ErrListingNotActive   = errors.New("listing is not active")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidDestination = errors.New("invalid payout destination")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrStateConflict      = errors.New("illegal state transition")
	ErrNotFound           = errors.New("record not found")
	ErrPayoutRail         = errors.New("payout rail unavailable")
)

// StatusForError maps a domain error to its HTTP status code.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrVariantRequired),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidDestination),
		errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrStateConflict), errors.Is(err, ErrVariantUnavailable):
		return http.StatusConflict
	case errors.Is(err, ErrListingNotActive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPayoutRail):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may safely retry the operation with
// the same idempotency key.
func Retryable(err error) bool {
	return errors.Is(err, ErrPayoutRail)
}
