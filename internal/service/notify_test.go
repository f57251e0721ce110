package service

import (
	"testing"
	"time"

	"github.com/queueflow/backend/internal/models"
)

func conditionTicket() models.Ticket {
	staff := "s1"
	return models.Ticket{
		ID:           "t1",
		ShopID:       "shop-1",
		Status:       models.StatusWaiting,
		Priority:     models.PriorityHigh,
		CustomerTier: models.TierGold,
		StaffID:      &staff,
		TotalAmount:  150,
		Items:        []models.TicketItem{{ServiceID: "cut", Quantity: 1}},
		Notes:        "walk-in, prefers Dana",
	}
}

func TestEvaluateConditionOperators(t *testing.T) {
	ctx := TicketContext(conditionTicket())
	cases := []struct {
		cond models.RuleCondition
		want bool
	}{
		{models.RuleCondition{Field: "status", Operator: OpEquals, Value: "waiting"}, true},
		{models.RuleCondition{Field: "status", Operator: OpEquals, Value: "SERVING"}, false},
		{models.RuleCondition{Field: "priority", Operator: OpNotEquals, Value: "normal"}, true},
		{models.RuleCondition{Field: "priority", Operator: OpNotEquals, Value: "high"}, false},
		{models.RuleCondition{Field: "total_amount", Operator: OpGreaterThan, Value: "100"}, true},
		{models.RuleCondition{Field: "total_amount", Operator: OpGreaterThan, Value: "150"}, false},
		{models.RuleCondition{Field: "total_amount", Operator: OpLessThan, Value: "200"}, true},
		{models.RuleCondition{Field: "notes", Operator: OpContains, Value: "DANA"}, true},
		{models.RuleCondition{Field: "notes", Operator: OpContains, Value: "phone"}, false},
		// Non-numeric operands never satisfy numeric comparisons.
		{models.RuleCondition{Field: "status", Operator: OpGreaterThan, Value: "10"}, false},
		{models.RuleCondition{Field: "status", Operator: "regex", Value: ".*"}, false},
	}
	for _, tc := range cases {
		got := EvaluateConditions([]models.RuleCondition{tc.cond}, ctx)
		if got != tc.want {
			t.Errorf("%s %s %q = %v, want %v", tc.cond.Field, tc.cond.Operator, tc.cond.Value, got, tc.want)
		}
	}
}

func TestZeroConditionsAlwaysMatch(t *testing.T) {
	if !EvaluateConditions(nil, TicketContext(conditionTicket())) {
		t.Fatal("expected empty condition set to match")
	}
}

func TestUnknownFieldNeverMatches(t *testing.T) {
	conds := []models.RuleCondition{{Field: "weather", Operator: OpEquals, Value: "sunny"}}
	if EvaluateConditions(conds, TicketContext(conditionTicket())) {
		t.Fatal("expected unknown field to fail the rule")
	}
}

func TestMatchingRulesFiltersKindTargetAndConditions(t *testing.T) {
	ticket := conditionTicket()
	rules := []models.NotificationRule{
		{ID: "r1", Kind: models.RuleKindStatus, TargetStatus: models.StatusServing, Active: true},
		{ID: "r2", Kind: models.RuleKindStatus, TargetStatus: models.StatusCompleted, Active: true},
		{ID: "r3", Kind: models.RuleKindStatus, TargetStatus: models.StatusServing, Active: false},
		{ID: "r4", Kind: models.RuleKindTime, Active: true},
		{
			ID: "r5", Kind: models.RuleKindStatus, TargetStatus: models.StatusServing, Active: true,
			Conditions: []models.RuleCondition{{Field: "customer_tier", Operator: OpEquals, Value: "platinum"}},
		},
	}

	got := MatchingRules(rules, models.RuleKindStatus, models.StatusServing, ticket)
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("expected only r1, got %+v", got)
	}
}

func TestMatchingRulesByEventName(t *testing.T) {
	rules := []models.NotificationRule{
		{ID: "r1", Kind: models.RuleKindEvent, EventName: "ticket_created", Active: true},
		{ID: "r2", Kind: models.RuleKindEvent, EventName: "ticket_assigned", Active: true},
	}
	got := MatchingRules(rules, models.RuleKindEvent, "TICKET_CREATED", conditionTicket())
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("expected case-insensitive event match, got %+v", got)
	}
}

func timeRule(recurrence string) models.NotificationRule {
	return models.NotificationRule{
		ID:         "r-time",
		ShopID:     "shop-1",
		Name:       "daily digest",
		Kind:       models.RuleKindTime,
		TimeOfDay:  "09:30",
		Recurrence: recurrence,
		Channels:   []string{"sms", "email"},
		Active:     true,
		Priority:   models.PriorityNormal,
	}
}

func TestExpandDailyRuleOverHorizon(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	got, err := ExpandTimeRule(timeRule(models.RecurrenceDaily), now, 7, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 7 fire days (Mar 1 still ahead of 09:30, through Mar 7) times 2 channels.
	if len(got) != 14 {
		t.Fatalf("expected 14 notifications, got %d", len(got))
	}

	first := got[0]
	want := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	if !first.ScheduledFor.Equal(want) {
		t.Fatalf("expected first fire at %v, got %v", want, first.ScheduledFor)
	}
	if first.Status != models.NotificationPending || first.RuleID != "r-time" {
		t.Fatalf("unexpected notification %+v", first)
	}
	if got[0].ID == got[1].ID {
		t.Fatal("expected distinct notification ids")
	}
}

func TestExpandWeeklyRuleFiresOncePerWeek(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC) // a Saturday
	got, err := ExpandTimeRule(timeRule(models.RecurrenceWeekly), now, 14, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Saturdays Mar 1 and Mar 8 times 2 channels; Mar 15 09:30 falls past the
	// horizon cutoff at 08:00.
	if len(got) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(got))
	}
	for _, n := range got {
		if n.ScheduledFor.Weekday() != time.Saturday {
			t.Fatalf("expected Saturday fire, got %v", n.ScheduledFor)
		}
	}
}

func TestExpandRuleAppliesDelay(t *testing.T) {
	rule := timeRule(models.RecurrenceDaily)
	rule.DelayMinutes = 15
	rule.Channels = []string{"push"}

	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	got, err := ExpandTimeRule(rule, now, 1, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected a single fire, got %d", len(got))
	}
	want := time.Date(2025, 3, 1, 9, 45, 0, 0, time.UTC)
	if !got[0].ScheduledFor.Equal(want) {
		t.Fatalf("expected delayed fire at %v, got %v", want, got[0].ScheduledFor)
	}
}

func TestExpandRejectsBadRules(t *testing.T) {
	rule := timeRule(models.RecurrenceDaily)
	rule.TimeOfDay = "25:99"
	if _, err := ExpandTimeRule(rule, time.Now(), 7, time.UTC); !IsKind(err, KindValidation) {
		t.Fatalf("expected VALIDATION_ERROR for bad time, got %v", err)
	}

	rule = timeRule("fortnightly")
	if _, err := ExpandTimeRule(rule, time.Now(), 7, time.UTC); !IsKind(err, KindValidation) {
		t.Fatalf("expected VALIDATION_ERROR for bad recurrence, got %v", err)
	}

	statusRule := models.NotificationRule{ID: "r", Kind: models.RuleKindStatus}
	if _, err := ExpandTimeRule(statusRule, time.Now(), 7, time.UTC); !IsKind(err, KindValidation) {
		t.Fatalf("expected VALIDATION_ERROR for non-time rule, got %v", err)
	}
}

func TestExpandTimeRulesSkipsInactiveAndReactive(t *testing.T) {
	inactive := timeRule(models.RecurrenceDaily)
	inactive.Active = false
	rules := []models.NotificationRule{
		inactive,
		{ID: "r-status", Kind: models.RuleKindStatus, Active: true},
		timeRule(models.RecurrenceDaily),
	}

	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	got, err := ExpandTimeRules(rules, now, 1, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Only the last rule expands: one fire, two channels.
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
}
