package queue

import "qline/ticket-service/internal/models"

// Normalize repairs counter drift left behind by partial failures, for
// example a crash between bumping next_number and inserting the ticket
// row. It is a pure function: safe to apply repeatedly, and a no-op on
// already-consistent state. maxIssued is the highest ticket number of
// the organization's current cycle (0 if none).
//
// Two floors are enforced: next_number must exceed the highest issued
// number, and when the serving pointer has somehow run past every
// issued ticket, next_number must leave room for the slot at the
// pointer (next >= served+2). The second floor only fires on that
// corruption; a legitimately drained queue (served == maxIssued) keeps
// its counters so an empty queue stays observably empty and the next
// issued number has no gap.
func Normalize(state models.CounterState, maxIssued int) (models.CounterState, bool) {
	next := state.NextNumber
	served := state.CurrentServed
	if next < 1 {
		next = 1
	}
	if served < 0 {
		served = 0
	}
	if maxIssued+1 > next {
		next = maxIssued + 1
	}
	if served > maxIssued && served+2 > next {
		next = served + 2
	}

	changed := next != state.NextNumber || served != state.CurrentServed
	state.NextNumber = next
	state.CurrentServed = served
	return state, changed
}
