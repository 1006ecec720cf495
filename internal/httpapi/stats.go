package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voice-agent-platform/internal/reporting"
)

func parseBound(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

// Stats serves the dashboard overview. from and to accept RFC3339 or YYYY-MM-DD.
func (h Handlers) Stats(c *gin.Context) {
	from, err := parseBound(c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	to, err := parseBound(c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}

	stats, err := h.Reporting.Stats(c.Request.Context(), reporting.TimeRange{From: from, To: to})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return
	}
	if err != nil {
		internalError(c, "stats failed", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h Handlers) ListAudit(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if h.Audit == nil {
		c.JSON(http.StatusOK, gin.H{"events": []any{}})
		return
	}
	evs, err := h.Audit.List(c.Request.Context(), limit)
	if err != nil {
		internalError(c, "list audit failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}
