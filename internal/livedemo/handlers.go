// Package livedemo serves the browser variant of the voice agent. The browser
// talks to the speech provider directly over WebRTC with a short-lived secret
// minted here; tool calls and call end are relayed back through this API.
package livedemo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/realtime"
	"voice-agent-platform/internal/records"
	"voice-agent-platform/internal/reservations"
	"voice-agent-platform/pkg/logger"
)

// BrowserAudioFormat is the only format browser sessions use.
const BrowserAudioFormat = "pcm16"

// SessionMinter creates ephemeral provider sessions. *realtime.SessionsClient satisfies it.
type SessionMinter interface {
	Create(ctx context.Context, cfg realtime.SessionConfig) (realtime.EphemeralSession, error)
}

type ToolRunner interface {
	Handle(ctx context.Context, rawArgs, conversationID string) reservations.ToolResult
	AgentConfig(ctx context.Context) *records.AgentConfig
}

type Handlers struct {
	Conversations records.ConversationStore
	Tools         ToolRunner
	Sessions      SessionMinter
	Realtime      config.RealtimeConfig
	Audit         *audit.Service
	Now           func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

type sessionResponse struct {
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	Model          string    `json:"model"`
	ClientSecret   string    `json:"client_secret"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// CreateSession opens a conversation record and mints a provider session
// configured exactly like a phone call, but with pcm16 audio.
func (h Handlers) CreateSession(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Conversations == nil || h.Tools == nil || h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "live demo not configured"})
		return
	}
	ctx := c.Request.Context()

	conv, err := h.Conversations.CreateConversation(ctx, h.now())
	if err != nil {
		log.Error("create conversation failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not start conversation"})
		return
	}

	sc := reservations.SessionConfig(h.Realtime, h.Tools.AgentConfig(ctx), BrowserAudioFormat)
	sc.Model = h.Realtime.BrowserModel
	sess, err := h.Sessions.Create(ctx, sc)
	if err != nil {
		log.Error("mint realtime session failed", "err", err, "conversation_id", conv.ID)
		if _, cerr := h.Conversations.CompleteConversation(ctx, conv.ID, h.now()); cerr != nil {
			log.Warn("close orphaned conversation failed", "err", cerr, "conversation_id", conv.ID)
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "speech provider unavailable"})
		return
	}

	log.Info("browser session started", "conversation_id", conv.ID, "session_id", sess.ID)
	c.JSON(http.StatusCreated, sessionResponse{
		ConversationID: conv.ID,
		SessionID:      sess.ID,
		Model:          sess.Model,
		ClientSecret:   sess.ClientSecret,
		ExpiresAt:      sess.ExpiresAt,
	})
}

type toolCallRequest struct {
	CallID         string `json:"call_id" binding:"required"`
	Name           string `json:"name"`
	Arguments      string `json:"arguments"`
	ConversationID string `json:"conversation_id"`
}

type toolCallResponse struct {
	Result reservations.ToolResult `json:"result"`
	// Events are the client events the browser sends on its data channel, in order.
	Events []json.RawMessage `json:"events"`
}

// ToolCall runs a function call the browser received from the provider and
// returns the function_call_output and response.create events to send back.
func (h Handlers) ToolCall(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Tools == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "live demo not configured"})
		return
	}
	var req toolCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}

	var result reservations.ToolResult
	if req.Name != "" && req.Name != reservations.ToolName {
		result = reservations.Failure("unknown tool: " + req.Name)
	} else {
		result = h.Tools.Handle(c.Request.Context(), req.Arguments, req.ConversationID)
	}
	log.Info("browser tool call", "call_id", req.CallID, "conversation_id", req.ConversationID, "success", result.Success)

	events := make([]json.RawMessage, 0, 2)
	for _, ev := range []realtime.ClientEvent{
		realtime.FunctionCallOutput{CallID: req.CallID, Output: result.JSON()},
		realtime.ResponseCreate{},
	} {
		b, err := realtime.MarshalClientEvent(ev)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event encoding failed"})
			return
		}
		events = append(events, b)
	}
	c.JSON(http.StatusOK, toolCallResponse{Result: result, Events: events})
}

// CompleteConversation closes out a browser conversation when the page disconnects.
func (h Handlers) CompleteConversation(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Conversations == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "live demo not configured"})
		return
	}
	id := c.Param("id")
	conv, err := h.Conversations.CompleteConversation(c.Request.Context(), id, h.now())
	switch {
	case errors.Is(err, records.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	case err != nil:
		log.Error("complete conversation failed", "err", err, "conversation_id", id)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not complete conversation"})
		return
	}

	if h.Audit != nil {
		if err := h.Audit.LogConversationClosed(c.Request.Context(), audit.ActorFrom(c.Request.Context(), c.ClientIP()), id); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, conv)
}
