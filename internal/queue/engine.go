package queue

import (
	"context"
	"log"
	"strings"
	"time"

	"qline/ticket-service/internal/directory"
	"qline/ticket-service/internal/models"
	"qline/ticket-service/internal/notify"
	"qline/ticket-service/internal/store"

	"github.com/google/uuid"
)

const maxDisplayNameLen = 200

// Engine implements the per-organization queue: atomic number
// issuance, the ticket state machine, admin advancement, and wait-time
// estimation. It holds no mutable state of its own; everything lives in
// the injected store, so restarts and horizontal scaling are safe.
type Engine struct {
	store           store.Store
	orgs            directory.Directory
	notifier        notify.Notifier
	missedThreshold int
}

type Options struct {
	MissedThreshold int
	Notifier        notify.Notifier
}

func New(st store.Store, orgs directory.Directory, options Options) *Engine {
	threshold := options.MissedThreshold
	if threshold <= 0 {
		threshold = DefaultMissedThreshold
	}
	return &Engine{
		store:           st,
		orgs:            orgs,
		notifier:        options.Notifier,
		missedThreshold: threshold,
	}
}

type IssueInput struct {
	OrgID          string
	RequestID      string
	DisplayName    string
	Channel        string
	ExternalUserID string
}

type IssueResult struct {
	Ticket     models.Ticket `json:"ticket"`
	NowServing int           `json:"now_serving"`
	LastNumber int           `json:"last_number"`
	ETASeconds *int64        `json:"eta_seconds,omitempty"`
}

type Snapshot struct {
	OrgID             string         `json:"org_id"`
	NowServing        int            `json:"now_serving"`
	LastNumber        int            `json:"last_number"`
	AvgServiceSeconds *int64         `json:"avg_service_seconds,omitempty"`
	Ticket            *models.Ticket `json:"ticket,omitempty"`
	ETASeconds        *int64         `json:"eta_seconds,omitempty"`
}

type AdvanceResult struct {
	CurrentServed int `json:"current_served"`
	NowServing    int `json:"now_serving"`
	LastNumber    int `json:"last_number"`
}

// Issue assigns the next sequential number to a new waiting ticket.
// When a request id is supplied, a retry with the same id returns the
// original ticket instead of consuming another number.
func (e *Engine) Issue(ctx context.Context, input IssueInput) (IssueResult, error) {
	input.OrgID = strings.TrimSpace(input.OrgID)
	input.RequestID = strings.TrimSpace(input.RequestID)
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	input.Channel = strings.TrimSpace(input.Channel)
	input.ExternalUserID = strings.TrimSpace(input.ExternalUserID)
	if input.OrgID == "" || len(input.DisplayName) > maxDisplayNameLen {
		return IssueResult{}, ErrValidation
	}
	if err := e.checkOrg(ctx, input.OrgID); err != nil {
		return IssueResult{}, err
	}

	var ticket models.Ticket
	var counter models.CounterState
	err := e.store.WithinOrg(ctx, input.OrgID, func(tx store.Tx) error {
		if input.RequestID != "" {
			existing, found, err := tx.TicketByRequestID(ctx, input.RequestID)
			if err != nil {
				return err
			}
			if found {
				ticket = existing
			}
		}

		state, err := tx.Counter(ctx)
		if err != nil {
			return err
		}
		maxIssued, err := tx.MaxTicketNumber(ctx)
		if err != nil {
			return err
		}
		state, _ = Normalize(state, maxIssued)

		now := time.Now().UTC()
		if ticket.TicketID == "" {
			ticket = models.Ticket{
				TicketID:       uuid.NewString(),
				OrgID:          input.OrgID,
				Cycle:          state.Cycle,
				Number:         state.NextNumber,
				Status:         models.StatusWaiting,
				DisplayName:    input.DisplayName,
				Channel:        input.Channel,
				ExternalUserID: input.ExternalUserID,
				RequestID:      input.RequestID,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.InsertTicket(ctx, ticket); err != nil {
				return err
			}
			state.NextNumber++
		}

		state.UpdatedAt = now
		if err := tx.SetCounter(ctx, state); err != nil {
			return err
		}
		counter = state
		return nil
	})
	if err != nil {
		return IssueResult{}, err
	}

	result := IssueResult{
		Ticket:     ticket,
		NowServing: counter.NowServing(),
		LastNumber: counter.LastNumber(),
	}
	result.ETASeconds = e.estimateETA(ctx, input.OrgID, ticket.Number, counter.NowServing())
	return result, nil
}

// Snapshot reports the queue's current shape. When ticketNumber is
// positive the named ticket is included after lazy reconciliation, with
// its own ETA when an estimate exists.
func (e *Engine) Snapshot(ctx context.Context, orgID string, ticketNumber int) (Snapshot, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return Snapshot{}, ErrValidation
	}
	if err := e.checkOrg(ctx, orgID); err != nil {
		return Snapshot{}, err
	}

	counter, found, err := e.store.CounterState(ctx, orgID)
	if err != nil {
		return Snapshot{}, err
	}
	if !found {
		counter = models.CounterState{OrgID: orgID, NextNumber: 1}
	}

	snap := Snapshot{
		OrgID:      orgID,
		NowServing: counter.NowServing(),
		LastNumber: counter.LastNumber(),
	}

	avg, avgKnown := e.averageServiceTime(ctx, orgID)
	if avgKnown {
		secs := int64(avg / time.Second)
		snap.AvgServiceSeconds = &secs
	}

	if ticketNumber > 0 {
		ticket, found, err := e.store.TicketByNumber(ctx, orgID, ticketNumber)
		if err != nil {
			return Snapshot{}, err
		}
		if !found {
			return Snapshot{}, store.ErrTicketNotFound
		}
		ticket = e.reconcile(ctx, ticket, snap.NowServing)
		snap.Ticket = &ticket
		if avgKnown && models.IsPending(ticket.Status) {
			eta := etaSeconds(ticket.Number, snap.NowServing, avg)
			snap.ETASeconds = &eta
		}
	}
	return snap, nil
}

// ListActive returns the pending queue in number order, reconciling
// stale statuses on the way out. Tickets that reconcile to cancelled
// are dropped from the listing.
func (e *Engine) ListActive(ctx context.Context, orgID string) ([]models.Ticket, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, ErrValidation
	}
	if err := e.checkOrg(ctx, orgID); err != nil {
		return nil, err
	}

	counter, found, err := e.store.CounterState(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	tickets, err := e.store.ListActive(ctx, orgID)
	if err != nil {
		return nil, err
	}
	result := make([]models.Ticket, 0, len(tickets))
	for _, ticket := range tickets {
		ticket = e.reconcile(ctx, ticket, counter.NowServing())
		if models.IsPending(ticket.Status) {
			result = append(result, ticket)
		}
	}
	return result, nil
}

// Advance serves the ticket at the serving pointer and moves the
// pointer forward. An empty queue is a reported error, not a no-op:
// operators must be able to tell "advanced" from "nothing to advance".
func (e *Engine) Advance(ctx context.Context, orgID string) (AdvanceResult, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return AdvanceResult{}, ErrValidation
	}
	if err := e.checkOrg(ctx, orgID); err != nil {
		return AdvanceResult{}, err
	}

	var result AdvanceResult
	var promoted *models.Ticket
	err := e.store.WithinOrg(ctx, orgID, func(tx store.Tx) error {
		state, err := tx.Counter(ctx)
		if err != nil {
			return err
		}
		maxIssued, err := tx.MaxTicketNumber(ctx)
		if err != nil {
			return err
		}
		state, _ = Normalize(state, maxIssued)

		// Emptiness is judged against issued tickets, not NextNumber, so
		// a repaired counter can never manufacture a phantom slot.
		nowServing := state.NowServing()
		if nowServing > maxIssued {
			return ErrNoPendingTicket
		}

		now := time.Now().UTC()
		ticket, found, err := tx.TicketByNumber(ctx, nowServing)
		if err != nil {
			return err
		}
		if found && models.IsPending(ticket.Status) {
			if _, err := tx.UpdateStatus(ctx, ticket.TicketID, ticket.Status, models.StatusServed, now, &now); err != nil {
				return err
			}
		}

		state.CurrentServed = nowServing
		state.UpdatedAt = now
		if err := tx.SetCounter(ctx, state); err != nil {
			return err
		}
		result = AdvanceResult{
			CurrentServed: state.CurrentServed,
			NowServing:    state.NowServing(),
			LastNumber:    state.LastNumber(),
		}

		promoted, err = pendingAt(ctx, tx, state.NowServing())
		return err
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	e.notifyCalled(ctx, promoted)
	return result, nil
}

// Skip marks the named ticket missed and, when it is the one at the
// serving pointer, passes the pointer over it.
func (e *Engine) Skip(ctx context.Context, orgID, ticketID string) (models.Ticket, error) {
	orgID = strings.TrimSpace(orgID)
	ticketID = strings.TrimSpace(ticketID)
	if orgID == "" || ticketID == "" {
		return models.Ticket{}, ErrValidation
	}
	if err := e.checkOrg(ctx, orgID); err != nil {
		return models.Ticket{}, err
	}

	var ticket models.Ticket
	var promoted *models.Ticket
	err := e.store.WithinOrg(ctx, orgID, func(tx store.Tx) error {
		found := false
		var err error
		ticket, found, err = tx.TicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if !found {
			return store.ErrTicketNotFound
		}

		state, err := tx.Counter(ctx)
		if err != nil {
			return err
		}
		// A ticket left over from before a reset is not part of the
		// current queue; its number must not move today's pointer.
		if ticket.Cycle != state.Cycle {
			return store.ErrTicketNotFound
		}
		maxIssued, err := tx.MaxTicketNumber(ctx)
		if err != nil {
			return err
		}
		state, _ = Normalize(state, maxIssued)

		now := time.Now().UTC()
		if ticket.Status == models.StatusWaiting {
			if _, err := tx.UpdateStatus(ctx, ticket.TicketID, models.StatusWaiting, models.StatusMissed, now, nil); err != nil {
				return err
			}
			ticket.Status = models.StatusMissed
			ticket.UpdatedAt = now
		}

		// The person is being passed over: the pointer moves even
		// though the ticket was not served.
		advanced := false
		if ticket.Number == state.NowServing() {
			state.CurrentServed = ticket.Number
			advanced = true
		}
		state.UpdatedAt = now
		if err := tx.SetCounter(ctx, state); err != nil {
			return err
		}

		if advanced {
			promoted, err = pendingAt(ctx, tx, state.NowServing())
			return err
		}
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	e.notifyCalled(ctx, promoted)
	return ticket, nil
}

// Serve marks a ticket served even when it is not at the serving
// pointer. The pointer only advances when the numbers match; serving
// out of turn never skips past other pending tickets.
func (e *Engine) Serve(ctx context.Context, orgID, ticketID string) (models.Ticket, error) {
	orgID = strings.TrimSpace(orgID)
	ticketID = strings.TrimSpace(ticketID)
	if orgID == "" || ticketID == "" {
		return models.Ticket{}, ErrValidation
	}
	if err := e.checkOrg(ctx, orgID); err != nil {
		return models.Ticket{}, err
	}

	var ticket models.Ticket
	var promoted *models.Ticket
	err := e.store.WithinOrg(ctx, orgID, func(tx store.Tx) error {
		found := false
		var err error
		ticket, found, err = tx.TicketByID(ctx, ticketID)
		if err != nil {
			return err
		}
		if !found {
			return store.ErrTicketNotFound
		}
		if !store.ValidTransition("serve", ticket.Status) {
			return store.ErrInvalidState
		}

		state, err := tx.Counter(ctx)
		if err != nil {
			return err
		}
		if ticket.Cycle != state.Cycle {
			return store.ErrTicketNotFound
		}
		maxIssued, err := tx.MaxTicketNumber(ctx)
		if err != nil {
			return err
		}
		state, _ = Normalize(state, maxIssued)

		now := time.Now().UTC()
		if _, err := tx.UpdateStatus(ctx, ticket.TicketID, ticket.Status, models.StatusServed, now, &now); err != nil {
			return err
		}
		ticket.Status = models.StatusServed
		ticket.UpdatedAt = now
		ticket.ServedAt = &now

		advanced := false
		if ticket.Number == state.NowServing() {
			state.CurrentServed = ticket.Number
			advanced = true
		}
		state.UpdatedAt = now
		if err := tx.SetCounter(ctx, state); err != nil {
			return err
		}

		if advanced {
			promoted, err = pendingAt(ctx, tx, state.NowServing())
			return err
		}
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	e.notifyCalled(ctx, promoted)
	return ticket, nil
}

// Reset cancels every pending ticket and rewinds the counters to their
// genesis state, so the next issued ticket is number 1 again. It
// returns how many tickets were cancelled. Destructive; callers gate it
// behind administrative authorization.
func (e *Engine) Reset(ctx context.Context, orgID string) (int, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return 0, ErrValidation
	}
	if err := e.checkOrg(ctx, orgID); err != nil {
		return 0, err
	}

	cancelled := 0
	err := e.store.WithinOrg(ctx, orgID, func(tx store.Tx) error {
		state, err := tx.Counter(ctx)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		count, err := tx.CancelActive(ctx, now)
		if err != nil {
			return err
		}
		cancelled = count
		// A new cycle starts: numbering restarts at 1 and the old
		// cycle's rows stay behind as history.
		return tx.SetCounter(ctx, models.CounterState{
			OrgID:      orgID,
			Cycle:      state.Cycle + 1,
			NextNumber: 1,
			UpdatedAt:  now,
		})
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}

// CancelByNumber withdraws a ticket on the holder's behalf. Stale
// requests are expected: an unknown number or an already-terminal
// ticket yields false, not an error.
func (e *Engine) CancelByNumber(ctx context.Context, orgID string, number int) (bool, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" || number <= 0 {
		return false, ErrValidation
	}
	if err := e.checkOrg(ctx, orgID); err != nil {
		return false, err
	}

	cancelled := false
	err := e.store.WithinOrg(ctx, orgID, func(tx store.Tx) error {
		ticket, found, err := tx.TicketByNumber(ctx, number)
		if err != nil {
			return err
		}
		if !found || !store.ValidTransition("cancel", ticket.Status) {
			return nil
		}
		now := time.Now().UTC()
		ok, err := tx.UpdateStatus(ctx, ticket.TicketID, ticket.Status, models.StatusCancelled, now, nil)
		if err != nil {
			return err
		}
		cancelled = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

func (e *Engine) checkOrg(ctx context.Context, orgID string) error {
	ok, err := e.orgs.IsValidOrg(ctx, orgID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOrganization
	}
	return nil
}

// reconcile applies the lazy pass-over rules to a ticket read outside
// the org lock. The compare-and-set losing to a concurrent reader is
// fine: the decision is deterministic, so the other writer stored the
// same status this ticket is returned with.
func (e *Engine) reconcile(ctx context.Context, ticket models.Ticket, nowServing int) models.Ticket {
	target, changed := ReconcileStatus(ticket.Status, nowServing-ticket.Number, e.missedThreshold)
	if !changed {
		return ticket
	}
	action := "cancel"
	if target == models.StatusMissed {
		action = "miss"
	}
	if !store.ValidTransition(action, ticket.Status) {
		return ticket
	}
	if _, err := e.store.TransitionTicket(ctx, ticket.OrgID, ticket.TicketID, ticket.Status, target, time.Now().UTC()); err != nil {
		// Tolerated: a stale status is re-evaluated on the next read.
		log.Printf("reconcile ticket %s: %v", ticket.TicketID, err)
		return ticket
	}
	ticket.Status = target
	return ticket
}

func (e *Engine) averageServiceTime(ctx context.Context, orgID string) (time.Duration, bool) {
	history, err := e.store.RecentServedAt(ctx, orgID, estimatorWindow)
	if err != nil {
		log.Printf("service history for org %s: %v", orgID, err)
		return 0, false
	}
	return AverageServiceTime(history)
}

func (e *Engine) estimateETA(ctx context.Context, orgID string, number, nowServing int) *int64 {
	avg, ok := e.averageServiceTime(ctx, orgID)
	if !ok {
		return nil
	}
	eta := etaSeconds(number, nowServing, avg)
	return &eta
}

func etaSeconds(number, nowServing int, avg time.Duration) int64 {
	position := number - nowServing
	if position < 0 {
		position = 0
	}
	return int64(position) * int64(avg/time.Second)
}

func pendingAt(ctx context.Context, tx store.Tx, number int) (*models.Ticket, error) {
	ticket, found, err := tx.TicketByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !found || !models.IsPending(ticket.Status) {
		return nil, nil
	}
	return &ticket, nil
}

func (e *Engine) notifyCalled(ctx context.Context, ticket *models.Ticket) {
	if ticket == nil || e.notifier == nil {
		return
	}
	if err := e.notifier.TicketCalled(ctx, *ticket); err != nil {
		log.Printf("notify ticket %s: %v", ticket.TicketID, err)
	}
}
