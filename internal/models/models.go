package models

import "time"

const (
	StatusWaiting   = "WAITING"
	StatusConfirmed = "CONFIRMED"
	StatusServing   = "SERVING"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
	StatusNoShow    = "NO_SHOW"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	TierBronze   = "BRONZE"
	TierSilver   = "SILVER"
	TierGold     = "GOLD"
	TierPlatinum = "PLATINUM"
)

type TicketItem struct {
	ServiceID   string  `json:"service_id"`
	ServiceName string  `json:"service_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

type Ticket struct {
	ID                   string       `json:"id"`
	ShopID               string       `json:"shop_id"`
	DepartmentID         string       `json:"department_id"`
	CustomerID           string       `json:"customer_id"`
	CustomerTier         string       `json:"customer_tier"`
	SequenceNumber       int          `json:"sequence_number"`
	Items                []TicketItem `json:"items"`
	TotalAmount          float64      `json:"total_amount"`
	Status               string       `json:"status"`
	Priority             string       `json:"priority"`
	EstimatedWaitMinutes int          `json:"estimated_wait_minutes"`
	ActualWaitMinutes    *int         `json:"actual_wait_minutes"`
	StaffID              *string      `json:"staff_id"`
	Notes                string       `json:"notes"`
	CreatedAt            time.Time    `json:"created_at"`
	CalledAt             *time.Time   `json:"called_at"`
	CompletedAt          *time.Time   `json:"completed_at"`
}

type Staff struct {
	ID           string    `json:"id"`
	ShopID       string    `json:"shop_id"`
	DepartmentID string    `json:"department_id"`
	Name         string    `json:"name"`
	Seniority    int       `json:"seniority"`
	Skills       []string  `json:"skills"`
	OnDuty       bool      `json:"on_duty"`
	CurrentLoad  int       `json:"current_load"`
	ShiftMinutes int       `json:"shift_minutes"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PriorityScore is recomputed on demand and never persisted as source of truth.
type PriorityScore struct {
	TicketID string  `json:"ticket_id"`
	Score    float64 `json:"score"`
	Bucket   string  `json:"bucket"`
	Reason   string  `json:"reason"`
	Strategy string  `json:"strategy"`
}

const (
	RuleKindTime   = "time"
	RuleKindStatus = "status"
	RuleKindEvent  = "event"
)

const (
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
)

type RuleCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type NotificationRule struct {
	ID           string          `json:"id"`
	ShopID       string          `json:"shop_id"`
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	TimeOfDay    string          `json:"time_of_day,omitempty"`
	Recurrence   string          `json:"recurrence,omitempty"`
	TargetStatus string          `json:"target_status,omitempty"`
	EventName    string          `json:"event_name,omitempty"`
	DelayMinutes int             `json:"delay_minutes"`
	Conditions   []RuleCondition `json:"conditions"`
	Channels     []string        `json:"channels"`
	Active       bool            `json:"active"`
	Priority     string          `json:"priority"`
}

const (
	NotificationPending = "PENDING"
	NotificationSent    = "SENT"
	NotificationFailed  = "FAILED"
)

type Notification struct {
	ID           string     `json:"id"`
	RuleID       string     `json:"rule_id"`
	ShopID       string     `json:"shop_id"`
	TicketID     string     `json:"ticket_id,omitempty"`
	Channel      string     `json:"channel"`
	Recipient    string     `json:"recipient"`
	Message      string     `json:"message"`
	Priority     string     `json:"priority"`
	Status       string     `json:"status"`
	MessageID    string     `json:"message_id,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

// HistoryRecord is one terminal ticket row joined with its payment total, as
// read back page by page for flow analytics.
type HistoryRecord struct {
	TicketID       string
	ShopID         string
	DepartmentID   string
	StaffID        *string
	Status         string
	CreatedAt      time.Time
	CalledAt       *time.Time
	CompletedAt    *time.Time
	WaitMinutes    *int
	ServiceMinutes *int
	PaidAmount     float64
}
