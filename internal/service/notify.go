package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/queueflow/backend/internal/models"
)

const (
	OpEquals      = "equals"
	OpNotEquals   = "not-equals"
	OpGreaterThan = "greater-than"
	OpLessThan    = "less-than"
	OpContains    = "contains"
)

// TicketContext flattens the fields rule conditions may reference.
func TicketContext(t models.Ticket) map[string]string {
	var staffID string
	if t.StaffID != nil {
		staffID = *t.StaffID
	}
	return map[string]string{
		"status":        t.Status,
		"priority":      t.Priority,
		"customer_tier": t.CustomerTier,
		"shop_id":       t.ShopID,
		"department_id": t.DepartmentID,
		"staff_id":      staffID,
		"total_amount":  strconv.FormatFloat(t.TotalAmount, 'f', -1, 64),
		"item_count":    strconv.Itoa(len(t.Items)),
		"notes":         t.Notes,
	}
}

// EvaluateConditions reports whether every condition holds. A rule with zero
// conditions always matches.
func EvaluateConditions(conds []models.RuleCondition, ctx map[string]string) bool {
	for _, c := range conds {
		actual, ok := ctx[strings.ToLower(strings.TrimSpace(c.Field))]
		if !ok {
			return false
		}
		if !evaluateCondition(actual, c.Operator, c.Value) {
			return false
		}
	}
	return true
}

func evaluateCondition(actual, operator, expected string) bool {
	switch strings.ToLower(strings.TrimSpace(operator)) {
	case OpEquals:
		return strings.EqualFold(actual, expected)
	case OpNotEquals:
		return !strings.EqualFold(actual, expected)
	case OpGreaterThan:
		a, errA := strconv.ParseFloat(actual, 64)
		b, errB := strconv.ParseFloat(expected, 64)
		return errA == nil && errB == nil && a > b
	case OpLessThan:
		a, errA := strconv.ParseFloat(actual, 64)
		b, errB := strconv.ParseFloat(expected, 64)
		return errA == nil && errB == nil && a < b
	case OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(expected))
	default:
		return false
	}
}

// MatchingRules filters active rules of the given kind whose trigger target and
// conditions match the ticket. target is the new status for status rules and
// the event name for event rules.
func MatchingRules(rules []models.NotificationRule, kind, target string, ticket models.Ticket) []models.NotificationRule {
	ctx := TicketContext(ticket)
	var out []models.NotificationRule
	for _, r := range rules {
		if !r.Active || r.Kind != kind {
			continue
		}
		switch kind {
		case models.RuleKindStatus:
			if !strings.EqualFold(r.TargetStatus, target) {
				continue
			}
		case models.RuleKindEvent:
			if !strings.EqualFold(r.EventName, target) {
				continue
			}
		}
		if !EvaluateConditions(r.Conditions, ctx) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// cronSpecFor renders a rule's time-of-day and recurrence as a standard cron
// expression. Weekly rules fire on ref's weekday, monthly on ref's day of
// month; the rule model carries no explicit weekday.
func cronSpecFor(rule models.NotificationRule, ref time.Time) (string, error) {
	at, err := time.Parse("15:04", strings.TrimSpace(rule.TimeOfDay))
	if err != nil {
		return "", newValidation("cronSpecFor", fmt.Sprintf("rule %s has invalid time_of_day %q", rule.ID, rule.TimeOfDay))
	}
	switch rule.Recurrence {
	case models.RecurrenceDaily:
		return fmt.Sprintf("%d %d * * *", at.Minute(), at.Hour()), nil
	case models.RecurrenceWeekly:
		return fmt.Sprintf("%d %d * * %d", at.Minute(), at.Hour(), int(ref.Weekday())), nil
	case models.RecurrenceMonthly:
		return fmt.Sprintf("%d %d %d * *", at.Minute(), at.Hour(), ref.Day()), nil
	default:
		return "", newValidation("cronSpecFor", fmt.Sprintf("rule %s has unknown recurrence %q", rule.ID, rule.Recurrence))
	}
}

// ExpandTimeRule turns one time-based rule into concrete pending notifications
// over the horizon, one per fire time per channel.
func ExpandTimeRule(rule models.NotificationRule, now time.Time, horizonDays int, loc *time.Location) ([]models.Notification, error) {
	if rule.Kind != models.RuleKindTime {
		return nil, newValidation("ExpandTimeRule", fmt.Sprintf("rule %s is not time-based", rule.ID))
	}
	spec, err := cronSpecFor(rule, now.In(loc))
	if err != nil {
		return nil, err
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, wrapOperation("ExpandTimeRule", fmt.Sprintf("rule %s schedule", rule.ID), err)
	}

	horizon := now.In(loc).AddDate(0, 0, horizonDays)
	var out []models.Notification
	for t := schedule.Next(now.In(loc)); !t.After(horizon); t = schedule.Next(t) {
		fireAt := t.Add(time.Duration(rule.DelayMinutes) * time.Minute)
		for _, ch := range rule.Channels {
			out = append(out, models.Notification{
				ID:           uuid.NewString(),
				RuleID:       rule.ID,
				ShopID:       rule.ShopID,
				Channel:      ch,
				Message:      rule.Name,
				Priority:     rule.Priority,
				Status:       models.NotificationPending,
				ScheduledFor: fireAt,
			})
		}
	}
	return out, nil
}

// ExpandTimeRules expands every active time-based rule; inactive and reactive
// rules are skipped, not errors.
func ExpandTimeRules(rules []models.NotificationRule, now time.Time, horizonDays int, loc *time.Location) ([]models.Notification, error) {
	var out []models.Notification
	for _, r := range rules {
		if !r.Active || r.Kind != models.RuleKindTime {
			continue
		}
		batch, err := ExpandTimeRule(r, now, horizonDays, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

type ChannelResult struct {
	Channel   string `json:"channel"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SendOutcome struct {
	TicketID   string          `json:"ticket_id"`
	Results    []ChannelResult `json:"results"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
}

type ChannelStats struct {
	Attempted  int `json:"attempted"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type BulkSummary struct {
	TotalTickets  int                      `json:"total_tickets"`
	TotalChannels int                      `json:"total_channels"`
	Successful    int                      `json:"successful"`
	Failed        int                      `json:"failed"`
	SuccessRate   float64                  `json:"success_rate"`
	PerChannel    map[string]*ChannelStats `json:"per_channel"`
	Outcomes      []SendOutcome            `json:"outcomes"`
}
