package models

import "time"

type Ticket struct {
	TicketID       string     `json:"ticket_id"`
	OrgID          string     `json:"org_id"`
	Cycle          int        `json:"-"`
	Number         int        `json:"number"`
	Status         string     `json:"status"`
	DisplayName    string     `json:"display_name,omitempty"`
	Channel        string     `json:"channel,omitempty"`
	ExternalUserID string     `json:"external_user_id,omitempty"`
	RequestID      string     `json:"request_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ServedAt       *time.Time `json:"served_at,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusMissed    = "missed"
	StatusServed    = "served"
	StatusCancelled = "cancelled"
)

// IsPending reports whether a ticket can still be served or cancelled.
func IsPending(status string) bool {
	return status == StatusWaiting || status == StatusMissed
}
