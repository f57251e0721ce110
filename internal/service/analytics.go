package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/queueflow/backend/internal/models"
)

type AnalyticsConfig struct {
	TargetCompletionRate float64
	// UtilizationSpread is how far a staff member may drift from the
	// department average before being flagged.
	UtilizationSpread float64
	// PeakVolumeFactor flags hours whose volume exceeds this multiple of the
	// average hourly volume.
	PeakVolumeFactor float64
	PageSize         int
}

func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		TargetCompletionRate: 0.85,
		UtilizationSpread:    0.25,
		PeakVolumeFactor:     2.0,
		PageSize:             500,
	}
}

type FlowGoals struct {
	ReduceWait        bool `json:"reduce_wait"`
	ImproveCompletion bool `json:"improve_completion"`
	BalanceLoad       bool `json:"balance_load"`
}

type HourlyStat struct {
	Hour           int     `json:"hour"`
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	CompletionRate float64 `json:"completion_rate"`
}

type StaffUtilization struct {
	StaffID         string  `json:"staff_id"`
	Name            string  `json:"name"`
	ServedCount     int     `json:"served_count"`
	ServiceMinutes  int     `json:"service_minutes"`
	ShiftMinutes    int     `json:"shift_minutes"`
	UtilizationRate float64 `json:"utilization_rate"`
}

type FlowMetrics struct {
	Total             int     `json:"total"`
	Completed         int     `json:"completed"`
	Cancelled         int     `json:"cancelled"`
	NoShow            int     `json:"no_show"`
	CompletionRate    float64 `json:"completion_rate"`
	CancellationRate  float64 `json:"cancellation_rate"`
	NoShowRate        float64 `json:"no_show_rate"`
	AvgWaitMinutes    float64 `json:"avg_wait_minutes"`
	MaxWaitMinutes    int     `json:"max_wait_minutes"`
	AvgServiceMinutes float64 `json:"avg_service_minutes"`
	MaxServiceMinutes int     `json:"max_service_minutes"`
	TotalRevenue      float64 `json:"total_revenue"`

	Hourly []HourlyStat       `json:"hourly"`
	Staff  []StaffUtilization `json:"staff"`
}

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

const (
	BottleneckLowCompletion = "low_completion"
	BottleneckUnderutilized = "underutilized_staff"
	BottleneckOverloaded    = "overloaded_staff"
	BottleneckPeakHour      = "peak_hour_volume"
)

type Bottleneck struct {
	Kind          string `json:"kind"`
	Severity      string `json:"severity"`
	Description   string `json:"description"`
	AffectedCount int    `json:"affected_count"`
}

const (
	CategoryStaffing    = "staffing"
	CategoryUtilization = "utilization"
	CategoryProcess     = "process"
	CategoryTechnology  = "technology"
	CategoryTraining    = "training"
)

type Recommendation struct {
	Category        string  `json:"category"`
	Priority        string  `json:"priority"`
	Description     string  `json:"description"`
	Action          string  `json:"action"`
	EstimatedImpact float64 `json:"estimated_impact_pct"`
}

type RecommendationSummary struct {
	HighPriority         int     `json:"high_priority"`
	MediumPriority       int     `json:"medium_priority"`
	LowPriority          int     `json:"low_priority"`
	PotentialImprovement float64 `json:"potential_improvement_pct"`
}

type FlowReport struct {
	Metrics         FlowMetrics           `json:"metrics"`
	Bottlenecks     []Bottleneck          `json:"bottlenecks"`
	Recommendations []Recommendation      `json:"recommendations"`
	Summary         RecommendationSummary `json:"summary"`
}

// flowAccumulator folds history pages into running aggregates so a long date
// range never has to sit in memory at once.
type flowAccumulator struct {
	total, completed, cancelled, noShow int

	waitSum, waitCount       int
	maxWait                  int
	serviceSum, serviceCount int
	maxService               int
	revenue                  float64

	hourTotal     [24]int
	hourCompleted [24]int

	staffServed  map[string]int
	staffMinutes map[string]int
}

func newFlowAccumulator() *flowAccumulator {
	return &flowAccumulator{
		staffServed:  map[string]int{},
		staffMinutes: map[string]int{},
	}
}

func (a *flowAccumulator) add(r models.HistoryRecord) {
	a.total++
	hour := r.CreatedAt.Hour()
	a.hourTotal[hour]++

	switch r.Status {
	case models.StatusCompleted:
		a.completed++
		a.hourCompleted[hour]++
	case models.StatusCancelled:
		a.cancelled++
	case models.StatusNoShow:
		a.noShow++
	}

	if r.WaitMinutes != nil {
		a.waitSum += *r.WaitMinutes
		a.waitCount++
		if *r.WaitMinutes > a.maxWait {
			a.maxWait = *r.WaitMinutes
		}
	}
	if r.ServiceMinutes != nil {
		a.serviceSum += *r.ServiceMinutes
		a.serviceCount++
		if *r.ServiceMinutes > a.maxService {
			a.maxService = *r.ServiceMinutes
		}
		if r.StaffID != nil {
			a.staffMinutes[*r.StaffID] += *r.ServiceMinutes
		}
	}
	if r.StaffID != nil && r.Status == models.StatusCompleted {
		a.staffServed[*r.StaffID]++
	}
	a.revenue += r.PaidAmount
}

func (a *flowAccumulator) finalize(staff []models.Staff) FlowMetrics {
	m := FlowMetrics{
		Total:             a.total,
		Completed:         a.completed,
		Cancelled:         a.cancelled,
		NoShow:            a.noShow,
		MaxWaitMinutes:    a.maxWait,
		MaxServiceMinutes: a.maxService,
		TotalRevenue:      a.revenue,
	}
	if a.total > 0 {
		m.CompletionRate = float64(a.completed) / float64(a.total)
		m.CancellationRate = float64(a.cancelled) / float64(a.total)
		m.NoShowRate = float64(a.noShow) / float64(a.total)
	}
	if a.waitCount > 0 {
		m.AvgWaitMinutes = float64(a.waitSum) / float64(a.waitCount)
	}
	if a.serviceCount > 0 {
		m.AvgServiceMinutes = float64(a.serviceSum) / float64(a.serviceCount)
	}

	for h := 0; h < 24; h++ {
		if a.hourTotal[h] == 0 {
			continue
		}
		stat := HourlyStat{Hour: h, Total: a.hourTotal[h], Completed: a.hourCompleted[h]}
		stat.CompletionRate = float64(stat.Completed) / float64(stat.Total)
		m.Hourly = append(m.Hourly, stat)
	}

	for _, s := range staff {
		u := StaffUtilization{
			StaffID:        s.ID,
			Name:           s.Name,
			ServedCount:    a.staffServed[s.ID],
			ServiceMinutes: a.staffMinutes[s.ID],
			ShiftMinutes:   s.ShiftMinutes,
		}
		if s.ShiftMinutes > 0 {
			u.UtilizationRate = float64(u.ServiceMinutes) / float64(s.ShiftMinutes)
		}
		m.Staff = append(m.Staff, u)
	}
	sort.Slice(m.Staff, func(i, j int) bool { return m.Staff[i].StaffID < m.Staff[j].StaffID })
	return m
}

// DetectBottlenecks applies the configured thresholds to the aggregated
// metrics.
func DetectBottlenecks(m FlowMetrics, cfg AnalyticsConfig) []Bottleneck {
	var out []Bottleneck

	if m.Total > 0 && m.CompletionRate < cfg.TargetCompletionRate {
		shortfall := cfg.TargetCompletionRate - m.CompletionRate
		out = append(out, Bottleneck{
			Kind:          BottleneckLowCompletion,
			Severity:      severityForShortfall(shortfall),
			Description:   fmt.Sprintf("completion rate %.0f%% is below the %.0f%% target", m.CompletionRate*100, cfg.TargetCompletionRate*100),
			AffectedCount: m.Total - m.Completed,
		})
	}

	if len(m.Staff) > 1 {
		var sum float64
		for _, s := range m.Staff {
			sum += s.UtilizationRate
		}
		avg := sum / float64(len(m.Staff))

		var under, over []StaffUtilization
		for _, s := range m.Staff {
			switch {
			case s.UtilizationRate < avg-cfg.UtilizationSpread:
				under = append(under, s)
			case s.UtilizationRate > avg+cfg.UtilizationSpread:
				over = append(over, s)
			}
		}
		if len(under) > 0 {
			out = append(out, Bottleneck{
				Kind:          BottleneckUnderutilized,
				Severity:      SeverityMedium,
				Description:   fmt.Sprintf("%d staff utilized well below the %.0f%% average", len(under), avg*100),
				AffectedCount: len(under),
			})
		}
		if len(over) > 0 {
			out = append(out, Bottleneck{
				Kind:          BottleneckOverloaded,
				Severity:      SeverityHigh,
				Description:   fmt.Sprintf("%d staff utilized well above the %.0f%% average", len(over), avg*100),
				AffectedCount: len(over),
			})
		}
	}

	if len(m.Hourly) > 1 {
		var sum int
		for _, h := range m.Hourly {
			sum += h.Total
		}
		avg := float64(sum) / float64(len(m.Hourly))
		var peaks []HourlyStat
		for _, h := range m.Hourly {
			if float64(h.Total) > avg*cfg.PeakVolumeFactor {
				peaks = append(peaks, h)
			}
		}
		if len(peaks) > 0 {
			severity := SeverityMedium
			for _, p := range peaks {
				if float64(p.Total) > avg*cfg.PeakVolumeFactor*1.5 {
					severity = SeverityHigh
					break
				}
			}
			out = append(out, Bottleneck{
				Kind:          BottleneckPeakHour,
				Severity:      severity,
				Description:   fmt.Sprintf("%d hours carry over %.1fx the average volume", len(peaks), cfg.PeakVolumeFactor),
				AffectedCount: len(peaks),
			})
		}
	}

	return out
}

func severityForShortfall(shortfall float64) string {
	switch {
	case shortfall > 0.20:
		return SeverityHigh
	case shortfall > 0.10:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// BuildRecommendations turns the bottleneck set into prioritized actions and
// rolls them up.
func BuildRecommendations(bottlenecks []Bottleneck, goals FlowGoals) ([]Recommendation, RecommendationSummary) {
	var recs []Recommendation

	for _, b := range bottlenecks {
		switch b.Kind {
		case BottleneckLowCompletion:
			rec := Recommendation{
				Category:        CategoryProcess,
				Priority:        b.Severity,
				Description:     b.Description,
				Action:          "review cancellations and no-shows; add confirmation reminders before the visit",
				EstimatedImpact: impactForSeverity(b.Severity),
			}
			if goals.ImproveCompletion {
				rec.Priority = SeverityHigh
			}
			recs = append(recs, rec)
		case BottleneckUnderutilized:
			recs = append(recs, Recommendation{
				Category:        CategoryTraining,
				Priority:        b.Severity,
				Description:     b.Description,
				Action:          "cross-train idle staff so more ticket types can route to them",
				EstimatedImpact: impactForSeverity(b.Severity),
			})
		case BottleneckOverloaded:
			rec := Recommendation{
				Category:        CategoryStaffing,
				Priority:        b.Severity,
				Description:     b.Description,
				Action:          "rebalance assignments away from overloaded staff or add headcount",
				EstimatedImpact: impactForSeverity(b.Severity),
			}
			if goals.BalanceLoad {
				rec.Priority = SeverityHigh
			}
			recs = append(recs, rec)
		case BottleneckPeakHour:
			recs = append(recs, Recommendation{
				Category:        CategoryStaffing,
				Priority:        b.Severity,
				Description:     b.Description,
				Action:          "shift staff schedules toward peak hours or spread demand with booking slots",
				EstimatedImpact: impactForSeverity(b.Severity),
			})
			if goals.ReduceWait {
				recs = append(recs, Recommendation{
					Category:        CategoryTechnology,
					Priority:        SeverityMedium,
					Description:     "waits concentrate in peak hours",
					Action:          "enable remote check-in so customers queue before arriving",
					EstimatedImpact: impactForSeverity(SeverityMedium),
				})
			}
		}
	}

	var summary RecommendationSummary
	for _, r := range recs {
		switch r.Priority {
		case SeverityHigh:
			summary.HighPriority++
		case SeverityMedium:
			summary.MediumPriority++
		default:
			summary.LowPriority++
		}
		summary.PotentialImprovement += r.EstimatedImpact
	}
	summary.PotentialImprovement = math.Min(summary.PotentialImprovement, 60)
	return recs, summary
}

func impactForSeverity(severity string) float64 {
	switch severity {
	case SeverityHigh:
		return 15
	case SeverityMedium:
		return 8
	default:
		return 3
	}
}
