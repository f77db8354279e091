package store

import (
	"context"
	"time"

	"qline/ticket-service/internal/models"
)

// Store is the persistence boundary for the queue engine. Mutating
// operations run inside WithinOrg, which serializes work per
// organization; the remaining methods are lock-free reads plus a
// single-ticket compare-and-set used by lazy status reconciliation.
type Store interface {
	// WithinOrg runs fn inside a transaction holding the organization's
	// counter row lock. The transaction commits when fn returns nil and
	// rolls back completely otherwise. Contention that persists past
	// the retry budget surfaces as ErrConflict.
	WithinOrg(ctx context.Context, orgID string, fn func(tx Tx) error) error

	// CounterState returns the stored counters, or false when the
	// organization has never issued a ticket.
	CounterState(ctx context.Context, orgID string) (models.CounterState, bool, error)

	// TicketByNumber resolves a number within the organization's
	// current reset cycle.
	TicketByNumber(ctx context.Context, orgID string, number int) (models.Ticket, bool, error)

	// ListActive returns waiting and missed tickets in number order.
	ListActive(ctx context.Context, orgID string) ([]models.Ticket, error)

	// RecentServedAt returns served-completion timestamps, newest
	// first, capped at limit.
	RecentServedAt(ctx context.Context, orgID string, limit int) ([]time.Time, error)

	// TransitionTicket moves a ticket from one status to another only
	// if it is still in the expected status. A false result means
	// another writer got there first; callers treat that as a no-op.
	TransitionTicket(ctx context.Context, orgID, ticketID, from, to string, at time.Time) (bool, error)
}

// Tx exposes the primitives available inside a per-organization
// transaction. The counter row stays locked for the lifetime of the Tx.
type Tx interface {
	// Counter returns the locked counter row, creating it lazily at
	// (next=1, served=0) for organizations issuing their first ticket.
	Counter(ctx context.Context) (models.CounterState, error)
	SetCounter(ctx context.Context, state models.CounterState) error

	// MaxTicketNumber is the highest number issued in the current
	// reset cycle, 0 if none.
	MaxTicketNumber(ctx context.Context) (int, error)

	InsertTicket(ctx context.Context, ticket models.Ticket) error
	TicketByID(ctx context.Context, ticketID string) (models.Ticket, bool, error)
	TicketByNumber(ctx context.Context, number int) (models.Ticket, bool, error)
	TicketByRequestID(ctx context.Context, requestID string) (models.Ticket, bool, error)

	// UpdateStatus is the in-transaction compare-and-set; servedAt is
	// stamped only when non-nil.
	UpdateStatus(ctx context.Context, ticketID, from, to string, at time.Time, servedAt *time.Time) (bool, error)

	// CancelActive cancels every waiting/missed ticket and reports how
	// many were cancelled.
	CancelActive(ctx context.Context, at time.Time) (int, error)
}
