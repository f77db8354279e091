package store

import "errors"

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrInvalidState   = errors.New("invalid ticket state")
	ErrConflict       = errors.New("transaction conflict")
	ErrUnavailable    = errors.New("storage unavailable")
)
