package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/auth"
	"voice-agent-platform/internal/rbac"
	"voice-agent-platform/pkg/logger"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Login checks the operator credentials and issues a JWT token pair.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	if h.AdminEmail == "" || h.AdminPasswordHash == "" {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "dashboard login disabled"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	emailOK := subtle.ConstantTimeCompare([]byte(strings.ToLower(req.Email)), []byte(strings.ToLower(h.AdminEmail))) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(h.AdminPasswordHash), []byte(req.Password))
	if !emailOK || passErr != nil {
		logger.FromGin(c).Warn("dashboard login rejected", "ip", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	pair, err := h.Auth.IssuePair(h.now(), h.AdminEmail, rbac.RoleOwner)
	if err != nil {
		internalError(c, "token issuance failed", err)
		return
	}
	h.recordAudit(c, func(s *audit.Service) error {
		return s.LogLogin(c.Request.Context(), audit.Actor{UserID: h.AdminEmail, Role: rbac.RoleOwner, IP: c.ClientIP()})
	})
	c.JSON(http.StatusOK, pair)
}

// Refresh exchanges a refresh token for a new pair.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	// the operator account is the only identity that can hold a refresh token
	if h.AdminEmail == "" || !strings.EqualFold(claims.UserID, h.AdminEmail) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), claims.UserID, rbac.RoleOwner)
	if err != nil {
		internalError(c, "token issuance failed", err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Me echoes the caller's identity.
func (h Handlers) Me(c *gin.Context) {
	a := h.actor(c)
	c.JSON(http.StatusOK, gin.H{"user_id": a.UserID, "role": a.Role})
}
