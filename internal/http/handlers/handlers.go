package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/queueflow/backend/internal/db"
	"github.com/queueflow/backend/internal/models"
	"github.com/queueflow/backend/internal/service"
)

type Handler struct {
	Store     *db.Store
	Engine    *service.Engine
	Validator *validator.Validate
	Logger    zerolog.Logger
	AdminKey  string
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type CreateTicketRequest struct {
	ShopID       string `json:"shop_id" validate:"required"`
	DepartmentID string `json:"department_id"`
	CustomerID   string `json:"customer_id" validate:"required"`
	CustomerTier string `json:"customer_tier"`
	Priority     string `json:"priority"`
	Notes        string `json:"notes"`
	Items        []struct {
		ServiceID   string  `json:"service_id" validate:"required"`
		ServiceName string  `json:"service_name"`
		Quantity    int     `json:"quantity" validate:"required,gt=0"`
		UnitPrice   float64 `json:"unit_price"`
	} `json:"items" validate:"min=1,dive"`
}

// @Summary Create a queue ticket
// @Tags tickets
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/tickets [post]
func (h *Handler) TicketCreate(c *gin.Context) {
	var req CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	in := service.CreateTicketInput{
		ShopID:       req.ShopID,
		DepartmentID: req.DepartmentID,
		CustomerID:   req.CustomerID,
		CustomerTier: req.CustomerTier,
		Priority:     req.Priority,
		Notes:        req.Notes,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, models.TicketItem{
			ServiceID:   it.ServiceID,
			ServiceName: it.ServiceName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	ticket, err := h.Engine.CreateTicket(c.Request.Context(), in)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

func (h *Handler) TicketsList(c *gin.Context) {
	shopID := strings.TrimSpace(c.Query("shop_id"))
	if shopID == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "shop_id is required", nil)
		return
	}
	status := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	departmentID := c.Query("department_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.Store.ListTickets(c.Request.Context(), shopID, status, departmentID, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list tickets", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func (h *Handler) TicketDetails(c *gin.Context) {
	ticket, err := h.Store.GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get ticket", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

func (h *Handler) StaffList(c *gin.Context) {
	shopID := strings.TrimSpace(c.Query("shop_id"))
	if shopID == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "shop_id is required", nil)
		return
	}
	onDuty := c.Query("on_duty") == "1" || strings.EqualFold(c.Query("on_duty"), "true")
	items, err := h.Store.ListStaff(c.Request.Context(), shopID, c.Query("department_id"), onDuty)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list staff", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Next ticket to serve
// @Tags queue
// @Produce json
// @Param shop_id query string true "Shop ID"
// @Param staff_id query string false "Restrict to this staff member's or unassigned tickets"
// @Param department_id query string false "Department filter"
// @Param priority_only query bool false "Only urgent/high tickets"
// @Success 200 {object} map[string]any
// @Router /api/next-to-serve [get]
func (h *Handler) NextToServe(c *gin.Context) {
	shopID := strings.TrimSpace(c.Query("shop_id"))
	if shopID == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "shop_id is required", nil)
		return
	}
	priorityOnly := c.Query("priority_only") == "1" || strings.EqualFold(c.Query("priority_only"), "true")

	ticket, ok, err := h.Engine.GetNextToServe(c.Request.Context(), shopID, c.Query("staff_id"), c.Query("department_id"), priorityOnly)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"ticket": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

type PrioritizeRequest struct {
	ShopID       string   `json:"shop_id" validate:"required"`
	TicketIDs    []string `json:"ticket_ids"`
	Strategy     string   `json:"strategy" validate:"required"`
	DepartmentID string   `json:"department_id"`
}

func (h *Handler) Prioritize(c *gin.Context) {
	var req PrioritizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	var tickets []models.Ticket
	for _, id := range req.TicketIDs {
		t, err := h.Store.GetTicket(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found: "+id, nil)
				return
			}
			writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load ticket", err.Error())
			return
		}
		tickets = append(tickets, t)
	}

	result, err := h.Engine.Prioritize(c.Request.Context(), req.ShopID, tickets, req.Strategy, req.DepartmentID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type AssignRequest struct {
	ShopID         string   `json:"shop_id" validate:"required"`
	StaffID        string   `json:"staff_id"`
	Strategy       string   `json:"strategy" validate:"required"`
	DepartmentID   string   `json:"department_id"`
	RequiredSkills []string `json:"required_skills"`
	PriorityHint   string   `json:"priority_hint"`
}

// @Summary Assign a ticket to a staff member
// @Tags queue
// @Accept json
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/tickets/{id}/assign [post]
func (h *Handler) Assign(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	result, err := h.Engine.Assign(c.Request.Context(), service.AssignRequest{
		ShopID:         req.ShopID,
		TicketID:       c.Param("id"),
		StaffID:        req.StaffID,
		Strategy:       req.Strategy,
		DepartmentID:   req.DepartmentID,
		RequiredSkills: req.RequiredSkills,
		PriorityHint:   req.PriorityHint,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type transitionRequest struct {
	ShopID string `json:"shop_id" validate:"required"`
}

func (h *Handler) transition(c *gin.Context, do func(ctx context.Context, shopID, ticketID string) error) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	if err := do(c.Request.Context(), req.ShopID, c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Confirm(c *gin.Context)  { h.transition(c, h.Engine.Confirm) }
func (h *Handler) Complete(c *gin.Context) { h.transition(c, h.Engine.Complete) }
func (h *Handler) Cancel(c *gin.Context)   { h.transition(c, h.Engine.Cancel) }
func (h *Handler) NoShow(c *gin.Context)   { h.transition(c, h.Engine.MarkNoShow) }

type OptimizeFlowRequest struct {
	ShopID       string            `json:"shop_id" validate:"required"`
	DepartmentID string            `json:"department_id"`
	From         time.Time         `json:"from" validate:"required"`
	To           time.Time         `json:"to" validate:"required"`
	Goals        service.FlowGoals `json:"goals"`
}

// @Summary Flow analytics and bottleneck report
// @Tags analytics
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/analytics/optimize [post]
func (h *Handler) OptimizeFlow(c *gin.Context) {
	var req OptimizeFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	report, err := h.Engine.OptimizeFlow(c.Request.Context(), req.ShopID, req.DepartmentID, req.From, req.To, req.Goals)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type ScheduleRequest struct {
	ShopID      string                    `json:"shop_id" validate:"required"`
	Rules       []models.NotificationRule `json:"rules"`
	HorizonDays int                       `json:"horizon_days"`
	Timezone    string                    `json:"timezone"`
}

func (h *Handler) NotificationsSchedule(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	scheduled, err := h.Engine.ScheduleNotifications(c.Request.Context(), req.ShopID, req.Rules, req.HorizonDays, req.Timezone)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": len(scheduled), "items": scheduled})
}

type BulkSendRequest struct {
	TicketIDs []string `json:"ticket_ids" validate:"min=1"`
	Message   string   `json:"message" validate:"required"`
	Channels  []string `json:"channels" validate:"min=1"`
	BatchSize int      `json:"batch_size"`
}

func (h *Handler) NotificationsBulk(c *gin.Context) {
	var req BulkSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	summary, err := h.Engine.SendBulkNotifications(c.Request.Context(), req.TicketIDs, req.Message, req.Channels, req.BatchSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) NotificationsDeliver(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	sent, failed, err := h.Engine.DeliverDue(c.Request.Context(), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": sent, "failed": failed})
}

func writeServiceError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindUnauthorized:
		status = http.StatusForbidden
	}
	writeError(c, status, string(kind), err.Error(), nil)
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
