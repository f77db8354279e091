package queue

import "qline/ticket-service/internal/models"

// DefaultMissedThreshold is how far the serving pointer may pass a
// waiting ticket before it is presumed abandoned rather than missed.
const DefaultMissedThreshold = 5

// ReconcileStatus decides what a pending ticket's status should be
// given how far the serving pointer has moved past it. behind is
// nowServing - ticket.Number. A small pass-over demotes waiting to
// missed (recoverable by staff); a pass-over beyond the threshold
// cancels the ticket. The decision is deterministic, so reconciling the
// same ticket twice yields the same result.
func ReconcileStatus(status string, behind, missedThreshold int) (string, bool) {
	if behind <= 0 {
		return status, false
	}
	if missedThreshold <= 0 {
		missedThreshold = DefaultMissedThreshold
	}
	switch status {
	case models.StatusWaiting:
		if behind <= missedThreshold {
			return models.StatusMissed, true
		}
		return models.StatusCancelled, true
	case models.StatusMissed:
		if behind > missedThreshold {
			return models.StatusCancelled, true
		}
	}
	return status, false
}
