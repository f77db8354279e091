package queue

import "errors"

var (
	ErrInvalidOrganization = errors.New("organization not found")
	ErrNoPendingTicket     = errors.New("no pending ticket")
	ErrValidation          = errors.New("invalid request")
)
