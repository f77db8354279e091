package models

import "time"

// CounterState holds the per-organization counters that define the
// shape of the queue. NextNumber is the number the next issued ticket
// receives; CurrentServed is the number of the most recently completed
// ticket (0 when nothing has been served). Cycle increments on every
// administrative reset: ticket numbers restart at 1 within a new cycle
// while rows from earlier cycles are kept for history.
type CounterState struct {
	OrgID         string    `json:"org_id"`
	Cycle         int       `json:"-"`
	NextNumber    int       `json:"next_number"`
	CurrentServed int       `json:"current_served"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NowServing is the ticket number currently expected at the counter.
func (c CounterState) NowServing() int {
	return c.CurrentServed + 1
}

// LastNumber is the highest ticket number ever issued.
func (c CounterState) LastNumber() int {
	return c.NextNumber - 1
}
