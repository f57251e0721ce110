package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/queueflow/backend/internal/models"
)

type PriorityStrategy int

const (
	ScoreWaitTime PriorityStrategy = iota
	ScoreCustomerTier
	ScoreServiceComplexity
	ScoreRevenue
	ScoreCombined
)

func ParsePriorityStrategy(value string) (PriorityStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "wait-time", "wait_time":
		return ScoreWaitTime, nil
	case "customer-tier", "customer_tier":
		return ScoreCustomerTier, nil
	case "service-complexity", "service_complexity":
		return ScoreServiceComplexity, nil
	case "revenue":
		return ScoreRevenue, nil
	case "combined":
		return ScoreCombined, nil
	default:
		return 0, newValidation("ParsePriorityStrategy", fmt.Sprintf("unknown prioritization strategy %q", value))
	}
}

func (s PriorityStrategy) String() string {
	switch s {
	case ScoreWaitTime:
		return "wait-time"
	case ScoreCustomerTier:
		return "customer-tier"
	case ScoreServiceComplexity:
		return "service-complexity"
	case ScoreRevenue:
		return "revenue"
	case ScoreCombined:
		return "combined"
	default:
		return "unknown"
	}
}

// ScoringConfig holds thresholds and blend weights. The combined blend is a
// product decision, so it is configuration rather than constants.
type ScoringConfig struct {
	HighThreshold    float64
	UrgentThreshold  float64
	WaitWeight       float64
	TierWeight       float64
	RevenueWeight    float64
	ComplexityWeight float64
	// RevenueMax normalizes revenue to a 0-100 scale.
	RevenueMax float64
	// WaitMax normalizes wait minutes for the combined blend.
	WaitMax float64
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		HighThreshold:    50,
		UrgentThreshold:  75,
		WaitWeight:       0.4,
		TierWeight:       0.3,
		RevenueWeight:    0.2,
		ComplexityWeight: 0.1,
		RevenueMax:       500,
		WaitMax:          120,
	}
}

type PrioritySummary struct {
	Urgent int `json:"urgent"`
	High   int `json:"high"`
	Normal int `json:"normal"`
}

var tierWeights = map[string]float64{
	models.TierBronze:   1,
	models.TierSilver:   2,
	models.TierGold:     3,
	models.TierPlatinum: 4,
}

// ScoreTicket computes one ticket's urgency under the strategy. now is passed
// in so scoring stays deterministic under test.
func ScoreTicket(ticket models.Ticket, strategy PriorityStrategy, cfg ScoringConfig, now time.Time) models.PriorityScore {
	var score float64
	var reason string

	switch strategy {
	case ScoreWaitTime:
		minutes := waitMinutes(ticket, now)
		score = minutes
		reason = fmt.Sprintf("waiting %.0f minutes", minutes)
	case ScoreCustomerTier:
		w := tierWeight(ticket.CustomerTier)
		score = w * 25
		reason = fmt.Sprintf("customer tier %s (weight %.0f)", strings.ToUpper(ticket.CustomerTier), w)
	case ScoreServiceComplexity:
		q, distinct := itemComplexity(ticket.Items)
		score = float64(q)*5 + float64(distinct)*10
		reason = fmt.Sprintf("%d items across %d services", q, distinct)
	case ScoreRevenue:
		score = normalize(ticket.TotalAmount, cfg.RevenueMax) * 100
		reason = fmt.Sprintf("revenue %.2f of max %.2f", ticket.TotalAmount, cfg.RevenueMax)
	case ScoreCombined:
		waitPart := normalize(waitMinutes(ticket, now), cfg.WaitMax)
		tierPart := normalize(tierWeight(ticket.CustomerTier), 4)
		revenuePart := normalize(ticket.TotalAmount, cfg.RevenueMax)
		q, distinct := itemComplexity(ticket.Items)
		complexityPart := normalize(float64(q)*5+float64(distinct)*10, 100)
		score = (cfg.WaitWeight*waitPart + cfg.TierWeight*tierPart +
			cfg.RevenueWeight*revenuePart + cfg.ComplexityWeight*complexityPart) * 100
		reason = fmt.Sprintf("blend wait=%.2f tier=%.2f revenue=%.2f complexity=%.2f",
			waitPart, tierPart, revenuePart, complexityPart)
	}

	return models.PriorityScore{
		TicketID: ticket.ID,
		Score:    score,
		Bucket:   bucketFor(score, cfg),
		Reason:   reason,
		Strategy: strategy.String(),
	}
}

// ScoreTickets scores a batch and returns results ordered most urgent first.
// Equal scores rank the earlier-created ticket higher.
func ScoreTickets(tickets []models.Ticket, strategy PriorityStrategy, cfg ScoringConfig, now time.Time) ([]models.PriorityScore, PrioritySummary) {
	createdAt := make(map[string]time.Time, len(tickets))
	scores := make([]models.PriorityScore, 0, len(tickets))
	var summary PrioritySummary

	for _, t := range tickets {
		s := ScoreTicket(t, strategy, cfg, now)
		createdAt[t.ID] = t.CreatedAt
		scores = append(scores, s)
		switch s.Bucket {
		case models.PriorityUrgent:
			summary.Urgent++
		case models.PriorityHigh:
			summary.High++
		default:
			summary.Normal++
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score == scores[j].Score {
			return createdAt[scores[i].TicketID].Before(createdAt[scores[j].TicketID])
		}
		return scores[i].Score > scores[j].Score
	})
	return scores, summary
}

func bucketFor(score float64, cfg ScoringConfig) string {
	switch {
	case score >= cfg.UrgentThreshold:
		return models.PriorityUrgent
	case score >= cfg.HighThreshold:
		return models.PriorityHigh
	default:
		return models.PriorityNormal
	}
}

func waitMinutes(ticket models.Ticket, now time.Time) float64 {
	m := now.Sub(ticket.CreatedAt).Minutes()
	if m < 0 {
		return 0
	}
	return m
}

func tierWeight(tier string) float64 {
	if w, ok := tierWeights[strings.ToUpper(strings.TrimSpace(tier))]; ok {
		return w
	}
	return 1
}

func itemComplexity(items []models.TicketItem) (int, int) {
	quantity := 0
	services := map[string]struct{}{}
	for _, it := range items {
		quantity += it.Quantity
		services[it.ServiceID] = struct{}{}
	}
	return quantity, len(services)
}

func normalize(value, max float64) float64 {
	if max <= 0 {
		return 0
	}
	v := value / max
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
