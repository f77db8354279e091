package notify

import (
	"context"
	"log"

	"qline/ticket-service/internal/models"
)

// Notifier pushes a "your ticket is being called" signal to whatever
// front end the visitor came from. The engine invokes it after commit,
// fire-and-forget: delivery retries and guarantees belong to the
// implementation, and failure never rolls back a queue transition.
type Notifier interface {
	TicketCalled(ctx context.Context, ticket models.Ticket) error
}

// LogNotifier writes calls to the process log. Default when no
// delivery channel is configured.
type LogNotifier struct{}

func (LogNotifier) TicketCalled(_ context.Context, ticket models.Ticket) error {
	log.Printf("calling ticket %d (id=%s) for org %s", ticket.Number, ticket.TicketID, ticket.OrgID)
	return nil
}
