package service

import (
	"sort"

	"github.com/queueflow/backend/internal/models"
)

var priorityRank = map[string]int{
	models.PriorityUrgent: 0,
	models.PriorityHigh:   1,
	models.PriorityNormal: 2,
}

type NextToServeQuery struct {
	StaffID      string
	PriorityOnly bool
}

// SelectNext picks the single ticket to serve next from WAITING candidates.
// Total by design: an empty candidate set yields (zero, false), never an error.
func SelectNext(tickets []models.Ticket, q NextToServeQuery) (models.Ticket, bool) {
	eligible := make([]models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.Status != models.StatusWaiting {
			continue
		}
		// Tickets already claimed by another staff member are off the table.
		if t.StaffID != nil && q.StaffID != "" && *t.StaffID != q.StaffID {
			continue
		}
		if t.StaffID != nil && q.StaffID == "" {
			continue
		}
		if q.PriorityOnly && t.Priority != models.PriorityUrgent && t.Priority != models.PriorityHigh {
			continue
		}
		eligible = append(eligible, t)
	}

	if len(eligible) == 0 {
		return models.Ticket{}, false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		ri, rj := rankOf(eligible[i].Priority), rankOf(eligible[j].Priority)
		if ri == rj {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return ri < rj
	})
	return eligible[0], true
}

func rankOf(priority string) int {
	if r, ok := priorityRank[priority]; ok {
		return r
	}
	return priorityRank[models.PriorityNormal]
}
