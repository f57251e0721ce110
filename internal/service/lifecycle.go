package service

import (
	"fmt"

	"github.com/queueflow/backend/internal/models"
)

// transitions lists the only legal status edges. Terminal statuses have no
// outgoing edges; tickets there are immutable except for audit fields.
var transitions = map[string][]string{
	models.StatusWaiting:   {models.StatusConfirmed, models.StatusServing, models.StatusCancelled, models.StatusNoShow},
	models.StatusConfirmed: {models.StatusServing, models.StatusCancelled},
	models.StatusServing:   {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted: {},
	models.StatusCancelled: {},
	models.StatusNoShow:    {},
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// assignableStatuses are the statuses from which a staff member may be
// attached to a ticket.
var assignableStatuses = []string{models.StatusWaiting, models.StatusServing}

func isAssignable(status string) bool {
	for _, s := range assignableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func checkTransition(op string, ticket models.Ticket, to string) error {
	if !CanTransition(ticket.Status, to) {
		return newValidation(op, fmt.Sprintf("illegal transition %s -> %s for ticket %s", ticket.Status, to, ticket.ID))
	}
	return nil
}

func checkShopScope(op string, ticket models.Ticket, shopID string) error {
	if ticket.ShopID != shopID {
		return newUnauthorized(op, fmt.Sprintf("ticket %s does not belong to shop %s", ticket.ID, shopID))
	}
	return nil
}

// actualWaitMinutes is the call-to-creation delta the ticket carries once
// completed.
func actualWaitMinutes(ticket models.Ticket) *int {
	if ticket.CalledAt == nil {
		return nil
	}
	minutes := int(ticket.CalledAt.Sub(ticket.CreatedAt).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	return &minutes
}
