package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/queueflow/backend/internal/models"
)

// AssignmentStrategy is a closed set; adding a strategy means adding a
// constant, a Parse case and a ChooseStaff case.
type AssignmentStrategy int

const (
	StrategyLoadBalancing AssignmentStrategy = iota
	StrategyRoundRobin
	StrategySkills
	StrategyPriority
)

func ParseAssignmentStrategy(value string) (AssignmentStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "load-balancing", "load_balancing":
		return StrategyLoadBalancing, nil
	case "round-robin", "round_robin":
		return StrategyRoundRobin, nil
	case "skills":
		return StrategySkills, nil
	case "priority":
		return StrategyPriority, nil
	default:
		return 0, newValidation("ParseAssignmentStrategy", fmt.Sprintf("unknown assignment strategy %q", value))
	}
}

func (s AssignmentStrategy) String() string {
	switch s {
	case StrategyLoadBalancing:
		return "load-balancing"
	case StrategyRoundRobin:
		return "round-robin"
	case StrategySkills:
		return "skills"
	case StrategyPriority:
		return "priority"
	default:
		return "unknown"
	}
}

type AssignmentInput struct {
	Ticket         models.Ticket
	Candidates     []models.Staff
	RequiredSkills []string
	PriorityHint   string
	// RotationCursor is the persisted per (shop, department) counter, already
	// advanced by the store for this call.
	RotationCursor int64
}

type AssignmentDecision struct {
	Staff    models.Staff
	Strategy AssignmentStrategy
	Reason   string
}

// ChooseStaff picks one eligible staff member for the ticket. Pure: the same
// input always yields the same decision.
func ChooseStaff(in AssignmentInput, strategy AssignmentStrategy) (AssignmentDecision, error) {
	const op = "ChooseStaff"

	onDuty := filterStaff(in.Candidates, func(s models.Staff) bool { return s.OnDuty })
	if len(onDuty) == 0 {
		return AssignmentDecision{}, newNotFound(op, "no on-duty staff available")
	}

	switch strategy {
	case StrategyLoadBalancing:
		chosen := leastLoaded(onDuty)
		return AssignmentDecision{
			Staff:    chosen,
			Strategy: strategy,
			Reason:   fmt.Sprintf("least loaded (%d active) among %d on duty", chosen.CurrentLoad, len(onDuty)),
		}, nil

	case StrategyRoundRobin:
		roster := make([]models.Staff, len(onDuty))
		copy(roster, onDuty)
		sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })
		idx := int(in.RotationCursor % int64(len(roster)))
		if idx < 0 {
			idx += len(roster)
		}
		chosen := roster[idx]
		return AssignmentDecision{
			Staff:    chosen,
			Strategy: strategy,
			Reason:   fmt.Sprintf("rotation position %d of %d", idx, len(roster)),
		}, nil

	case StrategySkills:
		skilled := filterStaff(onDuty, func(s models.Staff) bool {
			return hasAllSkills(s.Skills, in.RequiredSkills)
		})
		if len(skilled) == 0 {
			return AssignmentDecision{}, newNotFound(op, fmt.Sprintf("no staff with skills %v", in.RequiredSkills))
		}
		chosen := leastLoaded(skilled)
		return AssignmentDecision{
			Staff:    chosen,
			Strategy: strategy,
			Reason:   fmt.Sprintf("has skills %v, least loaded of %d matches", in.RequiredSkills, len(skilled)),
		}, nil

	case StrategyPriority:
		bucket := in.Ticket.Priority
		if in.PriorityHint != "" {
			bucket = in.PriorityHint
		}
		if bucket == models.PriorityUrgent {
			chosen := mostSenior(onDuty)
			return AssignmentDecision{
				Staff:    chosen,
				Strategy: strategy,
				Reason:   fmt.Sprintf("urgent ticket routed to most senior staff (seniority %d)", chosen.Seniority),
			}, nil
		}
		chosen := leastLoaded(onDuty)
		return AssignmentDecision{
			Staff:    chosen,
			Strategy: strategy,
			Reason:   fmt.Sprintf("non-urgent ticket, least loaded (%d active)", chosen.CurrentLoad),
		}, nil

	default:
		return AssignmentDecision{}, newValidation(op, fmt.Sprintf("unknown assignment strategy %d", strategy))
	}
}

func leastLoaded(staff []models.Staff) models.Staff {
	out := make([]models.Staff, len(staff))
	copy(out, staff)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentLoad == out[j].CurrentLoad {
			return out[i].ID < out[j].ID
		}
		return out[i].CurrentLoad < out[j].CurrentLoad
	})
	return out[0]
}

func mostSenior(staff []models.Staff) models.Staff {
	out := make([]models.Staff, len(staff))
	copy(out, staff)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seniority == out[j].Seniority {
			if out[i].CurrentLoad == out[j].CurrentLoad {
				return out[i].ID < out[j].ID
			}
			return out[i].CurrentLoad < out[j].CurrentLoad
		}
		return out[i].Seniority > out[j].Seniority
	})
	return out[0]
}

func hasAllSkills(skills, required []string) bool {
	for _, r := range required {
		found := false
		for _, s := range skills {
			if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(r)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func filterStaff(staff []models.Staff, keep func(models.Staff) bool) []models.Staff {
	out := make([]models.Staff, 0, len(staff))
	for _, s := range staff {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
