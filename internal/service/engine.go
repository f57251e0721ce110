package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/queueflow/backend/internal/channel"
	"github.com/queueflow/backend/internal/models"
)

// Store is the persistence contract the engine needs. Conditional writes
// (AssignTicket, UpdateTicketStatus, CompleteTicket) must be atomic: the
// engine's own status checks are advisory and races are settled by the store.
type Store interface {
	CreateTicket(ctx context.Context, t models.Ticket) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListWaitingTickets(ctx context.Context, shopID, departmentID string) ([]models.Ticket, error)
	AssignTicket(ctx context.Context, ticketID, staffID string, allowed []string) (bool, error)
	ReassignTicket(ctx context.Context, ticketID, fromStaffID, toStaffID string) (bool, error)
	UpdateTicketStatus(ctx context.Context, ticketID string, allowedFrom []string, to string) (bool, error)
	CompleteTicket(ctx context.Context, ticketID string, actualWaitMinutes *int) (bool, error)

	GetStaff(ctx context.Context, staffID string) (models.Staff, error)
	ListStaff(ctx context.Context, shopID, departmentID string, onDutyOnly bool) ([]models.Staff, error)
	AdvanceRotationCursor(ctx context.Context, shopID, departmentID string) (int64, error)

	TicketHistoryPage(ctx context.Context, shopID, departmentID string, from, to, afterTime time.Time, afterID string, limit int) ([]models.HistoryRecord, error)

	ListRules(ctx context.Context, shopID, kind string) ([]models.NotificationRule, error)
	InsertNotifications(ctx context.Context, notifications []models.Notification) (int64, error)
	ListDueNotifications(ctx context.Context, due time.Time, limit int) ([]models.Notification, error)
	MarkNotification(ctx context.Context, id, status, messageID string) error
}

type Engine struct {
	Store     Store
	Senders   channel.Registry
	Scoring   ScoringConfig
	Analytics AnalyticsConfig
	BatchSize int
	Logger    zerolog.Logger

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

type CreateTicketInput struct {
	ShopID       string
	DepartmentID string
	CustomerID   string
	CustomerTier string
	Items        []models.TicketItem
	Priority     string
	Notes        string
}

func (e *Engine) CreateTicket(ctx context.Context, in CreateTicketInput) (models.Ticket, error) {
	const op = "CreateTicket"
	if in.ShopID == "" || in.CustomerID == "" {
		return models.Ticket{}, newValidation(op, "shop_id and customer_id are required")
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if priority != models.PriorityNormal && priority != models.PriorityHigh && priority != models.PriorityUrgent {
		return models.Ticket{}, newValidation(op, fmt.Sprintf("unknown priority %q", in.Priority))
	}

	var total float64
	items := make([]models.TicketItem, 0, len(in.Items))
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return models.Ticket{}, newValidation(op, fmt.Sprintf("item %s has non-positive quantity", it.ServiceID))
		}
		it.LineTotal = float64(it.Quantity) * it.UnitPrice
		total += it.LineTotal
		items = append(items, it)
	}

	ticket := models.Ticket{
		ID:           uuid.NewString(),
		ShopID:       in.ShopID,
		DepartmentID: in.DepartmentID,
		CustomerID:   in.CustomerID,
		CustomerTier: in.CustomerTier,
		Items:        items,
		TotalAmount:  total,
		Status:       models.StatusWaiting,
		Priority:     priority,
		Notes:        in.Notes,
		CreatedAt:    e.now(),
	}
	created, err := e.Store.CreateTicket(ctx, ticket)
	if err != nil {
		return models.Ticket{}, wrapOperation(op, "persist ticket", err)
	}

	e.fireEventRules(ctx, created, "ticket_created")
	return created, nil
}

type AssignRequest struct {
	ShopID         string
	TicketID       string
	StaffID        string
	Strategy       string
	DepartmentID   string
	RequiredSkills []string
	PriorityHint   string
}

type PreviousAssignment struct {
	StaffID string `json:"staff_id"`
}

type AssignmentResult struct {
	TicketID  string              `json:"ticket_id"`
	StaffID   string              `json:"staff_id"`
	StaffName string              `json:"staff_name"`
	Strategy  string              `json:"strategy"`
	Reason    string              `json:"reason"`
	Previous  *PreviousAssignment `json:"previous,omitempty"`
}

// Assign picks a staff member for the ticket and writes the assignment.
// Validation and scope checks precede any write.
func (e *Engine) Assign(ctx context.Context, req AssignRequest) (AssignmentResult, error) {
	const op = "Assign"

	strategy, err := ParseAssignmentStrategy(req.Strategy)
	if err != nil {
		return AssignmentResult{}, err
	}

	ticket, err := e.getTicket(ctx, op, req.TicketID)
	if err != nil {
		return AssignmentResult{}, err
	}
	if err := checkShopScope(op, ticket, req.ShopID); err != nil {
		return AssignmentResult{}, err
	}
	if !isAssignable(ticket.Status) {
		return AssignmentResult{}, newValidation(op, fmt.Sprintf("ticket %s is %s and cannot be assigned", ticket.ID, ticket.Status))
	}

	department := req.DepartmentID
	if department == "" {
		department = ticket.DepartmentID
	}

	var decision AssignmentDecision
	if req.StaffID != "" {
		staff, err := e.Store.GetStaff(ctx, req.StaffID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return AssignmentResult{}, newNotFound(op, fmt.Sprintf("staff %s not found", req.StaffID))
			}
			return AssignmentResult{}, wrapOperation(op, "load staff", err)
		}
		decision = AssignmentDecision{Staff: staff, Strategy: strategy, Reason: "explicitly requested staff"}
	} else {
		candidates, err := e.Store.ListStaff(ctx, req.ShopID, department, true)
		if err != nil {
			return AssignmentResult{}, wrapOperation(op, "list staff", err)
		}
		in := AssignmentInput{
			Ticket:         ticket,
			Candidates:     candidates,
			RequiredSkills: req.RequiredSkills,
			PriorityHint:   req.PriorityHint,
		}
		if strategy == StrategyRoundRobin {
			cursor, err := e.Store.AdvanceRotationCursor(ctx, req.ShopID, department)
			if err != nil {
				return AssignmentResult{}, wrapOperation(op, "advance rotation cursor", err)
			}
			in.RotationCursor = cursor
		}
		decision, err = ChooseStaff(in, strategy)
		if err != nil {
			return AssignmentResult{}, err
		}
	}

	// A ticket already claimed by someone else goes through the reassignment
	// write, which moves both load counters. First-time claims race through the
	// conditional assign.
	var previous *PreviousAssignment
	var ok bool
	if ticket.StaffID != nil && *ticket.StaffID != decision.Staff.ID {
		previous = &PreviousAssignment{StaffID: *ticket.StaffID}
		ok, err = e.Store.ReassignTicket(ctx, ticket.ID, *ticket.StaffID, decision.Staff.ID)
	} else {
		ok, err = e.Store.AssignTicket(ctx, ticket.ID, decision.Staff.ID, assignableStatuses)
	}
	if err != nil {
		return AssignmentResult{}, wrapOperation(op, "write assignment", err)
	}
	if !ok {
		return AssignmentResult{}, newValidation(op, fmt.Sprintf("ticket %s changed state before assignment", ticket.ID))
	}

	e.Logger.Info().
		Str("ticket_id", ticket.ID).
		Str("staff_id", decision.Staff.ID).
		Str("strategy", decision.Strategy.String()).
		Msg("ticket assigned")

	// Rules match against the post-write state, including the new assignee.
	assigned := ticket
	staffID := decision.Staff.ID
	assigned.StaffID = &staffID
	e.fireStatusRules(ctx, assigned, models.StatusServing)

	return AssignmentResult{
		TicketID:  ticket.ID,
		StaffID:   decision.Staff.ID,
		StaffName: decision.Staff.Name,
		Strategy:  decision.Strategy.String(),
		Reason:    decision.Reason,
		Previous:  previous,
	}, nil
}

func (e *Engine) Complete(ctx context.Context, shopID, ticketID string) error {
	const op = "Complete"
	ticket, err := e.getTicket(ctx, op, ticketID)
	if err != nil {
		return err
	}
	if err := checkShopScope(op, ticket, shopID); err != nil {
		return err
	}
	if err := checkTransition(op, ticket, models.StatusCompleted); err != nil {
		return err
	}

	ok, err := e.Store.CompleteTicket(ctx, ticketID, actualWaitMinutes(ticket))
	if err != nil {
		return wrapOperation(op, "write completion", err)
	}
	if !ok {
		return newValidation(op, fmt.Sprintf("ticket %s changed state before completion", ticketID))
	}
	e.fireStatusRules(ctx, ticket, models.StatusCompleted)
	return nil
}

func (e *Engine) Cancel(ctx context.Context, shopID, ticketID string) error {
	return e.terminate(ctx, "Cancel", shopID, ticketID, models.StatusCancelled)
}

func (e *Engine) MarkNoShow(ctx context.Context, shopID, ticketID string) error {
	return e.terminate(ctx, "MarkNoShow", shopID, ticketID, models.StatusNoShow)
}

func (e *Engine) Confirm(ctx context.Context, shopID, ticketID string) error {
	return e.terminate(ctx, "Confirm", shopID, ticketID, models.StatusConfirmed)
}

func (e *Engine) terminate(ctx context.Context, op, shopID, ticketID, to string) error {
	ticket, err := e.getTicket(ctx, op, ticketID)
	if err != nil {
		return err
	}
	if err := checkShopScope(op, ticket, shopID); err != nil {
		return err
	}
	if err := checkTransition(op, ticket, to); err != nil {
		return err
	}

	ok, err := e.Store.UpdateTicketStatus(ctx, ticketID, transitionsInto(to), to)
	if err != nil {
		return wrapOperation(op, "write status", err)
	}
	if !ok {
		return newValidation(op, fmt.Sprintf("ticket %s changed state before %s", ticketID, to))
	}
	e.fireStatusRules(ctx, ticket, to)
	return nil
}

// transitionsInto lists the statuses from which `to` is reachable, for the
// store's conditional update.
func transitionsInto(to string) []string {
	var out []string
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				out = append(out, from)
			}
		}
	}
	return out
}

func (e *Engine) getTicket(ctx context.Context, op, ticketID string) (models.Ticket, error) {
	ticket, err := e.Store.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, newNotFound(op, fmt.Sprintf("ticket %s not found", ticketID))
		}
		return models.Ticket{}, wrapOperation(op, "load ticket", err)
	}
	return ticket, nil
}

// GetNextToServe is the admission-control decision: the lowest priority rank,
// earliest created eligible WAITING ticket, or none.
func (e *Engine) GetNextToServe(ctx context.Context, shopID, staffID, departmentID string, priorityOnly bool) (models.Ticket, bool, error) {
	const op = "GetNextToServe"
	waiting, err := e.Store.ListWaitingTickets(ctx, shopID, departmentID)
	if err != nil {
		return models.Ticket{}, false, wrapOperation(op, "list waiting tickets", err)
	}
	ticket, ok := SelectNext(waiting, NextToServeQuery{StaffID: staffID, PriorityOnly: priorityOnly})
	return ticket, ok, nil
}

type PrioritizeResult struct {
	Scores   []models.PriorityScore `json:"scores"`
	Summary  PrioritySummary        `json:"summary"`
	Strategy string                 `json:"strategy"`
}

// Prioritize scores the given tickets, or every waiting ticket for the shop
// when none are passed.
func (e *Engine) Prioritize(ctx context.Context, shopID string, tickets []models.Ticket, strategyName, departmentID string) (PrioritizeResult, error) {
	const op = "Prioritize"
	strategy, err := ParsePriorityStrategy(strategyName)
	if err != nil {
		return PrioritizeResult{}, err
	}
	if len(tickets) == 0 {
		tickets, err = e.Store.ListWaitingTickets(ctx, shopID, departmentID)
		if err != nil {
			return PrioritizeResult{}, wrapOperation(op, "list waiting tickets", err)
		}
	}
	for _, t := range tickets {
		if err := checkShopScope(op, t, shopID); err != nil {
			return PrioritizeResult{}, err
		}
	}
	scores, summary := ScoreTickets(tickets, strategy, e.Scoring, e.now())
	return PrioritizeResult{Scores: scores, Summary: summary, Strategy: strategy.String()}, nil
}

// OptimizeFlow aggregates the date range page by page so long histories never
// sit in memory at once.
func (e *Engine) OptimizeFlow(ctx context.Context, shopID, departmentID string, from, to time.Time, goals FlowGoals) (FlowReport, error) {
	const op = "OptimizeFlow"
	if !to.After(from) {
		return FlowReport{}, newValidation(op, "date range end must be after start")
	}

	pageSize := e.Analytics.PageSize
	if pageSize <= 0 {
		pageSize = DefaultAnalyticsConfig().PageSize
	}

	acc := newFlowAccumulator()
	afterTime, afterID := from, ""
	for {
		page, err := e.Store.TicketHistoryPage(ctx, shopID, departmentID, from, to, afterTime, afterID, pageSize)
		if err != nil {
			return FlowReport{}, wrapOperation(op, "read history page", err)
		}
		for _, r := range page {
			acc.add(r)
		}
		if len(page) < pageSize {
			break
		}
		last := page[len(page)-1]
		afterTime, afterID = last.CreatedAt, last.TicketID
	}

	staff, err := e.Store.ListStaff(ctx, shopID, departmentID, false)
	if err != nil {
		return FlowReport{}, wrapOperation(op, "list staff", err)
	}

	metrics := acc.finalize(staff)
	bottlenecks := DetectBottlenecks(metrics, e.Analytics)
	recs, summary := BuildRecommendations(bottlenecks, goals)
	return FlowReport{
		Metrics:         metrics,
		Bottlenecks:     bottlenecks,
		Recommendations: recs,
		Summary:         summary,
	}, nil
}

// ScheduleNotifications expands time-based rules into pending notification
// instances over the horizon and persists them. When rules is empty, the
// shop's stored time-based rules are used.
func (e *Engine) ScheduleNotifications(ctx context.Context, shopID string, rules []models.NotificationRule, horizonDays int, timezone string) ([]models.Notification, error) {
	const op = "ScheduleNotifications"
	if horizonDays <= 0 {
		horizonDays = 7
	}
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, newValidation(op, fmt.Sprintf("unknown timezone %q", timezone))
		}
	}

	if len(rules) == 0 {
		var err error
		rules, err = e.Store.ListRules(ctx, shopID, models.RuleKindTime)
		if err != nil {
			return nil, wrapOperation(op, "list rules", err)
		}
	}

	pending, err := ExpandTimeRules(rules, e.now(), horizonDays, loc)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	if _, err := e.Store.InsertNotifications(ctx, pending); err != nil {
		return nil, wrapOperation(op, "persist notifications", err)
	}
	return pending, nil
}

// DeliverDue sends pending notifications whose scheduled time has passed and
// marks each outcome individually.
func (e *Engine) DeliverDue(ctx context.Context, limit int) (sent, failed int, err error) {
	const op = "DeliverDue"
	if limit <= 0 {
		limit = 100
	}
	due, err := e.Store.ListDueNotifications(ctx, e.now(), limit)
	if err != nil {
		return 0, 0, wrapOperation(op, "list due notifications", err)
	}
	for _, n := range due {
		sender, ok := e.Senders[n.Channel]
		if !ok {
			failed++
			if markErr := e.Store.MarkNotification(ctx, n.ID, models.NotificationFailed, ""); markErr != nil {
				e.Logger.Error().Err(markErr).Str("notification_id", n.ID).Msg("failed to mark notification")
			}
			continue
		}
		messageID, sendErr := sender.Send(ctx, n.Recipient, n.Message, n.Priority)
		status := models.NotificationSent
		if sendErr != nil {
			status = models.NotificationFailed
			failed++
		} else {
			sent++
		}
		if markErr := e.Store.MarkNotification(ctx, n.ID, status, messageID); markErr != nil {
			e.Logger.Error().Err(markErr).Str("notification_id", n.ID).Msg("failed to mark notification")
		}
	}
	return sent, failed, nil
}

// fanout sends one logical notification over every channel concurrently.
// Channels are independent; one failure never blocks the others.
func (e *Engine) fanout(ctx context.Context, ticket models.Ticket, message, priority string, channels []string) SendOutcome {
	results := make([]ChannelResult, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch string) {
			defer wg.Done()
			sender, ok := e.Senders[ch]
			if !ok {
				results[i] = ChannelResult{Channel: ch, Error: "no sender configured"}
				return
			}
			messageID, err := sender.Send(ctx, ticket.CustomerID, message, priority)
			if err != nil {
				results[i] = ChannelResult{Channel: ch, Error: err.Error()}
				return
			}
			results[i] = ChannelResult{Channel: ch, Success: true, MessageID: messageID}
		}(i, ch)
	}
	wg.Wait()

	outcome := SendOutcome{TicketID: ticket.ID, Results: results}
	for _, r := range results {
		if r.Success {
			outcome.Successful++
		} else {
			outcome.Failed++
		}
	}
	return outcome
}

// SendBulkNotifications fans one notification type out to many tickets in
// bounded batches. Failures are reported per item and never abort the run.
func (e *Engine) SendBulkNotifications(ctx context.Context, ticketIDs []string, message string, channels []string, batchSize int) (BulkSummary, error) {
	const op = "SendBulkNotifications"
	if len(channels) == 0 {
		return BulkSummary{}, newValidation(op, "at least one channel is required")
	}
	if batchSize <= 0 {
		batchSize = e.BatchSize
	}
	if batchSize <= 0 {
		batchSize = 25
	}

	summary := BulkSummary{
		TotalTickets: len(ticketIDs),
		PerChannel:   map[string]*ChannelStats{},
	}
	for _, ch := range channels {
		summary.PerChannel[ch] = &ChannelStats{}
	}

	for start := 0; start < len(ticketIDs); start += batchSize {
		end := start + batchSize
		if end > len(ticketIDs) {
			end = len(ticketIDs)
		}
		var records []models.Notification
		for _, id := range ticketIDs[start:end] {
			ticket, err := e.getTicket(ctx, op, id)
			if err != nil {
				// A missing ticket and a store failure are different errors;
				// the per-item result carries whichever actually happened.
				outcome := SendOutcome{TicketID: id, Failed: len(channels)}
				for _, ch := range channels {
					outcome.Results = append(outcome.Results, ChannelResult{Channel: ch, Error: err.Error()})
				}
				summary.Outcomes = append(summary.Outcomes, outcome)
				continue
			}
			outcome := e.fanout(ctx, ticket, message, ticket.Priority, channels)
			summary.Outcomes = append(summary.Outcomes, outcome)
			records = append(records, outcomeRecords(ticket, message, outcome)...)
		}
		if len(records) > 0 {
			if _, err := e.Store.InsertNotifications(ctx, records); err != nil {
				e.Logger.Error().Err(err).Msg("failed to record bulk notifications")
			}
		}
	}

	for _, o := range summary.Outcomes {
		summary.Successful += o.Successful
		summary.Failed += o.Failed
		for _, r := range o.Results {
			stats := summary.PerChannel[r.Channel]
			if stats == nil {
				stats = &ChannelStats{}
				summary.PerChannel[r.Channel] = stats
			}
			stats.Attempted++
			if r.Success {
				stats.Successful++
			} else {
				stats.Failed++
			}
		}
	}
	summary.TotalChannels = summary.Successful + summary.Failed
	if summary.TotalChannels > 0 {
		summary.SuccessRate = float64(summary.Successful) / float64(summary.TotalChannels)
	}
	return summary, nil
}

func outcomeRecords(ticket models.Ticket, message string, outcome SendOutcome) []models.Notification {
	now := time.Now().UTC()
	out := make([]models.Notification, 0, len(outcome.Results))
	for _, r := range outcome.Results {
		status := models.NotificationFailed
		if r.Success {
			status = models.NotificationSent
		}
		out = append(out, models.Notification{
			ID:           uuid.NewString(),
			ShopID:       ticket.ShopID,
			TicketID:     ticket.ID,
			Channel:      r.Channel,
			Recipient:    ticket.CustomerID,
			Message:      message,
			Priority:     ticket.Priority,
			Status:       status,
			MessageID:    r.MessageID,
			ScheduledFor: now,
		})
	}
	return out
}

// fireStatusRules dispatches status-based rules reactively after a
// transition. Best effort: rule failures are logged, never surfaced to the
// caller of the transition.
func (e *Engine) fireStatusRules(ctx context.Context, ticket models.Ticket, newStatus string) {
	rules, err := e.Store.ListRules(ctx, ticket.ShopID, models.RuleKindStatus)
	if err != nil {
		e.Logger.Error().Err(err).Str("ticket_id", ticket.ID).Msg("failed to load status rules")
		return
	}
	updated := ticket
	updated.Status = newStatus
	e.fireRules(ctx, updated, MatchingRules(rules, models.RuleKindStatus, newStatus, updated))
}

func (e *Engine) fireEventRules(ctx context.Context, ticket models.Ticket, event string) {
	rules, err := e.Store.ListRules(ctx, ticket.ShopID, models.RuleKindEvent)
	if err != nil {
		e.Logger.Error().Err(err).Str("ticket_id", ticket.ID).Msg("failed to load event rules")
		return
	}
	e.fireRules(ctx, ticket, MatchingRules(rules, models.RuleKindEvent, event, ticket))
}

func (e *Engine) fireRules(ctx context.Context, ticket models.Ticket, matched []models.NotificationRule) {
	for _, rule := range matched {
		if rule.DelayMinutes > 0 {
			// Delayed rules become pending instances a delivery sweep picks up.
			fireAt := e.now().Add(time.Duration(rule.DelayMinutes) * time.Minute)
			var pending []models.Notification
			for _, ch := range rule.Channels {
				pending = append(pending, models.Notification{
					ID:           uuid.NewString(),
					RuleID:       rule.ID,
					ShopID:       ticket.ShopID,
					TicketID:     ticket.ID,
					Channel:      ch,
					Recipient:    ticket.CustomerID,
					Message:      rule.Name,
					Priority:     rule.Priority,
					Status:       models.NotificationPending,
					ScheduledFor: fireAt,
				})
			}
			if _, err := e.Store.InsertNotifications(ctx, pending); err != nil {
				e.Logger.Error().Err(err).Str("rule_id", rule.ID).Msg("failed to schedule delayed rule")
			}
			continue
		}
		outcome := e.fanout(ctx, ticket, rule.Name, rule.Priority, rule.Channels)
		records := outcomeRecords(ticket, rule.Name, outcome)
		for i := range records {
			records[i].RuleID = rule.ID
		}
		if _, err := e.Store.InsertNotifications(ctx, records); err != nil {
			e.Logger.Error().Err(err).Str("rule_id", rule.ID).Msg("failed to record rule notifications")
		}
	}
}
