package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/records"
)

func (h Handlers) ListConversations(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	status := records.ConversationStatus(c.Query("status"))
	switch status {
	case "", records.ConversationActive, records.ConversationCompleted:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	rows, err := h.Records.ListConversations(c.Request.Context(), records.ConversationFilter{Status: status, Limit: limit})
	if err != nil {
		internalError(c, "list conversations failed", err)
		return
	}
	if rows == nil {
		rows = []records.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": rows})
}

func (h Handlers) GetConversation(c *gin.Context) {
	conv, err := h.Records.GetConversation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, records.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		internalError(c, "get conversation failed", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h Handlers) ListReservations(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	f := records.ReservationFilter{
		Status: records.ReservationStatus(c.Query("status")),
		Date:   c.Query("date"),
		Limit:  limit,
	}
	if f.Status != "" && !f.Status.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	if f.Date != "" {
		if _, err := time.Parse(time.DateOnly, f.Date); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
	}

	rows, err := h.Records.ListReservations(c.Request.Context(), f)
	if err != nil {
		internalError(c, "list reservations failed", err)
		return
	}
	if rows == nil {
		rows = []records.Reservation{}
	}
	c.JSON(http.StatusOK, gin.H{"reservations": rows})
}

type reservationStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateReservationStatus lets staff confirm or cancel a booking.
func (h Handlers) UpdateReservationStatus(c *gin.Context) {
	var req reservationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}
	to := records.ReservationStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !to.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	before, err := h.Records.GetReservation(ctx, id)
	if errors.Is(err, records.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "reservation not found"})
		return
	}
	if err != nil {
		internalError(c, "get reservation failed", err)
		return
	}
	if before.Status == to {
		c.JSON(http.StatusOK, before)
		return
	}

	after, err := h.Records.UpdateReservationStatus(ctx, id, to)
	if err != nil {
		internalError(c, "update reservation failed", err)
		return
	}
	h.recordAudit(c, func(s *audit.Service) error {
		return s.LogReservationStatus(ctx, h.actor(c), id, string(before.Status), string(to))
	})
	c.JSON(http.StatusOK, after)
}

func (h Handlers) GetAgentConfig(c *gin.Context) {
	cfg, err := h.Records.GetAgentConfig(c.Request.Context())
	if errors.Is(err, records.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not configured"})
		return
	}
	if err != nil {
		internalError(c, "get agent config failed", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type agentConfigRequest struct {
	RestaurantName  string `json:"restaurant_name" binding:"required,max=200"`
	RestaurantHours string `json:"restaurant_hours" binding:"max=2000"`
	Menu            string `json:"menu" binding:"max=20000"`
	Instructions    string `json:"instructions" binding:"max=20000"`
}

// PutAgentConfig replaces the restaurant profile. Calls that start afterwards use it.
func (h Handlers) PutAgentConfig(c *gin.Context) {
	var req agentConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid agent config"})
		return
	}

	ctx := c.Request.Context()
	prev, err := h.Records.GetAgentConfig(ctx)
	if err != nil && !errors.Is(err, records.ErrNotFound) {
		internalError(c, "get agent config failed", err)
		return
	}

	next := records.AgentConfig{
		ID:              prev.ID,
		RestaurantName:  strings.TrimSpace(req.RestaurantName),
		RestaurantHours: req.RestaurantHours,
		Menu:            req.Menu,
		Instructions:    req.Instructions,
	}
	saved, err := h.Records.UpsertAgentConfig(ctx, next)
	if err != nil {
		internalError(c, "save agent config failed", err)
		return
	}

	if changed := changedFields(prev, saved); len(changed) > 0 {
		h.recordAudit(c, func(s *audit.Service) error {
			return s.LogAgentConfigUpdate(ctx, h.actor(c), saved.ID, changed)
		})
	}
	c.JSON(http.StatusOK, saved)
}

func changedFields(a, b records.AgentConfig) []string {
	var out []string
	if a.RestaurantName != b.RestaurantName {
		out = append(out, "restaurant_name")
	}
	if a.RestaurantHours != b.RestaurantHours {
		out = append(out, "restaurant_hours")
	}
	if a.Menu != b.Menu {
		out = append(out, "menu")
	}
	if a.Instructions != b.Instructions {
		out = append(out, "instructions")
	}
	return out
}
