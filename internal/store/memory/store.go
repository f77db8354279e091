// Package memory holds an in-process Store used by unit tests. It
// mirrors the postgres implementation's semantics: one lock per
// organization, full rollback when the transaction callback fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qline/ticket-service/internal/models"
	"qline/ticket-service/internal/store"
)

type Store struct {
	mu   sync.Mutex
	orgs map[string]*orgState
}

type orgState struct {
	mu         sync.Mutex
	hasCounter bool
	counter    models.CounterState
	tickets    map[string]models.Ticket
	byNumber   map[numberKey]string
	byRequest  map[string]string
}

// Numbers restart per reset cycle, so the number index is keyed by
// both.
type numberKey struct {
	cycle  int
	number int
}

func NewStore() *Store {
	return &Store{orgs: make(map[string]*orgState)}
}

func (s *Store) org(orgID string) *orgState {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[orgID]
	if !ok {
		o = &orgState{
			tickets:   make(map[string]models.Ticket),
			byNumber:  make(map[numberKey]string),
			byRequest: make(map[string]string),
		}
		s.orgs[orgID] = o
	}
	return o
}

func (s *Store) WithinOrg(ctx context.Context, orgID string, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := s.org(orgID)
	o.mu.Lock()
	defer o.mu.Unlock()

	tx := &memTx{
		orgID:      orgID,
		hasCounter: o.hasCounter,
		counter:    o.counter,
		tickets:    cloneTickets(o.tickets),
		byNumber:   cloneIndex(o.byNumber),
		byRequest:  cloneStrIndex(o.byRequest),
	}
	if err := fn(tx); err != nil {
		return err
	}

	o.hasCounter = tx.hasCounter
	o.counter = tx.counter
	o.tickets = tx.tickets
	o.byNumber = tx.byNumber
	o.byRequest = tx.byRequest
	return nil
}

func (s *Store) CounterState(_ context.Context, orgID string) (models.CounterState, bool, error) {
	o := s.org(orgID)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counter, o.hasCounter, nil
}

func (s *Store) TicketByNumber(_ context.Context, orgID string, number int) (models.Ticket, bool, error) {
	o := s.org(orgID)
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.byNumber[numberKey{cycle: o.counter.Cycle, number: number}]
	if !ok {
		return models.Ticket{}, false, nil
	}
	return o.tickets[id], true, nil
}

func (s *Store) ListActive(_ context.Context, orgID string) ([]models.Ticket, error) {
	o := s.org(orgID)
	o.mu.Lock()
	defer o.mu.Unlock()
	var tickets []models.Ticket
	for _, ticket := range o.tickets {
		if models.IsPending(ticket.Status) {
			tickets = append(tickets, ticket)
		}
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Number < tickets[j].Number })
	return tickets, nil
}

func (s *Store) RecentServedAt(_ context.Context, orgID string, limit int) ([]time.Time, error) {
	o := s.org(orgID)
	o.mu.Lock()
	defer o.mu.Unlock()
	var times []time.Time
	for _, ticket := range o.tickets {
		if ticket.Status == models.StatusServed && ticket.ServedAt != nil {
			times = append(times, *ticket.ServedAt)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].After(times[j]) })
	if limit > 0 && len(times) > limit {
		times = times[:limit]
	}
	return times, nil
}

func (s *Store) TransitionTicket(_ context.Context, orgID, ticketID, from, to string, at time.Time) (bool, error) {
	o := s.org(orgID)
	o.mu.Lock()
	defer o.mu.Unlock()
	ticket, ok := o.tickets[ticketID]
	if !ok || ticket.Status != from {
		return false, nil
	}
	ticket.Status = to
	ticket.UpdatedAt = at
	o.tickets[ticketID] = ticket
	return true, nil
}

type memTx struct {
	orgID      string
	hasCounter bool
	counter    models.CounterState
	tickets    map[string]models.Ticket
	byNumber   map[numberKey]string
	byRequest  map[string]string
}

func (t *memTx) Counter(_ context.Context) (models.CounterState, error) {
	if !t.hasCounter {
		t.counter = models.CounterState{OrgID: t.orgID, NextNumber: 1}
		t.hasCounter = true
	}
	return t.counter, nil
}

func (t *memTx) SetCounter(_ context.Context, state models.CounterState) error {
	state.OrgID = t.orgID
	t.counter = state
	t.hasCounter = true
	return nil
}

func (t *memTx) MaxTicketNumber(_ context.Context) (int, error) {
	max := 0
	for key := range t.byNumber {
		if key.cycle == t.counter.Cycle && key.number > max {
			max = key.number
		}
	}
	return max, nil
}

func (t *memTx) InsertTicket(_ context.Context, ticket models.Ticket) error {
	t.tickets[ticket.TicketID] = ticket
	t.byNumber[numberKey{cycle: ticket.Cycle, number: ticket.Number}] = ticket.TicketID
	if ticket.RequestID != "" {
		t.byRequest[ticket.RequestID] = ticket.TicketID
	}
	return nil
}

func (t *memTx) TicketByID(_ context.Context, ticketID string) (models.Ticket, bool, error) {
	ticket, ok := t.tickets[ticketID]
	return ticket, ok, nil
}

func (t *memTx) TicketByNumber(_ context.Context, number int) (models.Ticket, bool, error) {
	id, ok := t.byNumber[numberKey{cycle: t.counter.Cycle, number: number}]
	if !ok {
		return models.Ticket{}, false, nil
	}
	return t.tickets[id], true, nil
}

func (t *memTx) TicketByRequestID(_ context.Context, requestID string) (models.Ticket, bool, error) {
	id, ok := t.byRequest[requestID]
	if !ok {
		return models.Ticket{}, false, nil
	}
	return t.tickets[id], true, nil
}

func (t *memTx) UpdateStatus(_ context.Context, ticketID, from, to string, at time.Time, servedAt *time.Time) (bool, error) {
	ticket, ok := t.tickets[ticketID]
	if !ok || ticket.Status != from {
		return false, nil
	}
	ticket.Status = to
	ticket.UpdatedAt = at
	if servedAt != nil {
		stamped := *servedAt
		ticket.ServedAt = &stamped
	}
	t.tickets[ticketID] = ticket
	return true, nil
}

func (t *memTx) CancelActive(_ context.Context, at time.Time) (int, error) {
	count := 0
	for id, ticket := range t.tickets {
		if models.IsPending(ticket.Status) {
			ticket.Status = models.StatusCancelled
			ticket.UpdatedAt = at
			t.tickets[id] = ticket
			count++
		}
	}
	return count, nil
}

func cloneTickets(src map[string]models.Ticket) map[string]models.Ticket {
	dst := make(map[string]models.Ticket, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneIndex(src map[numberKey]string) map[numberKey]string {
	dst := make(map[numberKey]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneStrIndex(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
