package store

import "qline/ticket-service/internal/models"

var transitionMap = map[string][]string{
	"serve":  {models.StatusWaiting, models.StatusMissed},
	"skip":   {models.StatusWaiting},
	"miss":   {models.StatusWaiting},
	"cancel": {models.StatusWaiting, models.StatusMissed},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
