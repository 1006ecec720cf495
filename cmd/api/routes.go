package main

import (
	"log/slog"
	"net/http"
	"time"

	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/auth"
	"voice-agent-platform/internal/bridge"
	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/httpapi"
	"voice-agent-platform/internal/livedemo"
	"voice-agent-platform/internal/realtime"
	"voice-agent-platform/internal/records"
	"voice-agent-platform/internal/reporting"
	"voice-agent-platform/internal/reservations"
	"voice-agent-platform/internal/telephony"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	cfg     config.Config
	log     *slog.Logger
	closing <-chan struct{}

	auth      *auth.Manager
	repo      records.Repository
	notifier  records.Notifier
	audit     *audit.Service
	reporting *reporting.Service
	tools     *reservations.Service
	calls     *bridge.Server
	admission telephony.Admission
	sessions  *realtime.SessionsClient
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	if len(d.cfg.App.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     d.cfg.App.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposeHeaders:    []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "active_calls": d.calls.ActiveCalls()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Carrier webhooks (public, signature-checked when enabled).
	{
		var sigs *telephony.SignatureValidator
		if d.cfg.Twilio.ValidateSignatures {
			sigs = telephony.NewSignatureValidator(d.cfg.Twilio.AuthToken, d.cfg.App.PublicURL)
		}
		twiml := telephony.TwiMLHandler{
			Router: telephony.Router{
				Admission: d.admission,
				Greeting:  d.cfg.Twilio.Greeting,
				PublicURL: d.cfg.App.PublicURL,
			},
			Signatures: sigs,
		}
		r.GET("/twiml", twiml.Handle)
		r.POST("/twiml", twiml.Handle)

		stream := &telephony.MediaStreamHandler{
			Server:     d.calls,
			Signatures: sigs,
			Upgrader: websocket.Upgrader{
				ReadBufferSize:  4096,
				WriteBufferSize: 4096,
			},
		}
		r.GET(telephony.MediaStreamPath, stream.Handle)
	}

	h := httpapi.Handlers{
		Auth:              d.auth,
		Records:           d.repo,
		Reporting:         d.reporting,
		Audit:             d.audit,
		Notifier:          d.notifier,
		Closing:           d.closing,
		AdminEmail:        d.cfg.Auth.AdminEmail,
		AdminPasswordHash: d.cfg.Auth.AdminPasswordHash,
	}

	// AUTH routes (token issuance).
	authGroup := r.Group("/v1/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	{
		v1.GET("/me", h.Me)
		v1.GET("/events", httpapi.RequireStaff(), h.Events)
		v1.GET("/stats", httpapi.RequireStaff(), h.Stats)

		// Browser demo is a dashboard page: mints provider sessions and runs tool calls server side.
		demo := livedemo.Handlers{
			Conversations: d.repo,
			Tools:         d.tools,
			Sessions:      d.sessions,
			Realtime:      d.cfg.Realtime,
			Audit:         d.audit,
		}
		live := v1.Group("/live", httpapi.RequireStaff())
		{
			live.POST("/session", demo.CreateSession)
			live.POST("/tool-calls", demo.ToolCall)
		}

		conversations := v1.Group("/conversations", httpapi.RequireStaff())
		{
			conversations.GET("", h.ListConversations)
			conversations.GET("/:id", h.GetConversation)
			conversations.POST("/:id/complete", demo.CompleteConversation)
		}

		bookings := v1.Group("/reservations", httpapi.RequireStaff())
		{
			bookings.GET("", h.ListReservations)
			bookings.PATCH("/:id", h.UpdateReservationStatus)
		}

		v1.GET("/agent-config", httpapi.RequireStaff(), h.GetAgentConfig)
		v1.PUT("/agent-config", httpapi.RequireOwner(), h.PutAgentConfig)

		// ADMIN routes
		v1.GET("/audit", httpapi.RequireOwner(), h.ListAudit)
	}
}
