// Package httpapi holds the dashboard's JSON handlers.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/auth"
	"voice-agent-platform/internal/rbac"
	"voice-agent-platform/internal/records"
	"voice-agent-platform/internal/reporting"
	"voice-agent-platform/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Records   records.Repository
	Reporting *reporting.Service
	Audit     *audit.Service
	Notifier  records.Notifier

	// Single dashboard operator. The password is a bcrypt hash.
	AdminEmail        string
	AdminPasswordHash string

	// Closing ends open event streams when the server shuts down.
	Closing <-chan struct{}

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

func (h Handlers) actor(c *gin.Context) audit.Actor {
	return audit.ActorFrom(c.Request.Context(), c.ClientIP())
}

// audit failures never fail the request
func (h Handlers) recordAudit(c *gin.Context, fn func(s *audit.Service) error) {
	if h.Audit == nil {
		return
	}
	if err := fn(h.Audit); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Convenience middleware bundles.

func RequireStaff() gin.HandlerFunc { return rbac.RequireAnyRole(rbac.RoleStaff) }

func RequireOwner() gin.HandlerFunc { return rbac.RequireAnyRole(rbac.RoleOwner) }

func internalError(c *gin.Context, msg string, err error) {
	logger.FromGin(c).Error(msg, "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msg})
}
