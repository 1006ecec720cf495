package telephony

import (
	"context"
	"net/http"
	"time"

	"voice-agent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// TwiMLHandler answers the carrier's voice webhook with TwiML.
// It only parses, admits and renders; the call itself runs on the media stream.
type TwiMLHandler struct {
	Router Router

	// Signatures enables X-Twilio-Signature validation when non-nil.
	Signatures *SignatureValidator

	Now func() time.Time
}

func (h TwiMLHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}

	if h.Signatures != nil && !h.Signatures.Valid(c.Request) {
		log.Warn("twilio signature rejected", "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	in := form.ToInboundCallRequest(h.Now())
	router := h.Router
	router.Log = log

	res, err := router.Route(c.Request.Context(), in, c.Request.Host)
	if err != nil {
		log.Error("inbound call routing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "routing failed"})
		return
	}

	twiml, err := RenderTwiML(res)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	log.Info("inbound call answered", "call_sid", form.CallSid, "action", res.Action)
	c.Data(http.StatusOK, "application/xml", []byte(twiml))
}

// StreamServer runs one call over an upgraded media stream socket and returns when the call ends.
type StreamServer interface {
	ServeStream(ctx context.Context, ws *websocket.Conn)
}

// MediaStreamHandler upgrades the carrier's media stream request and hands the socket over.
type MediaStreamHandler struct {
	Server   StreamServer
	Upgrader websocket.Upgrader

	// Signatures enables X-Twilio-Signature validation of the handshake when non-nil.
	// Without it any client could open a stream and skip admission.
	Signatures *SignatureValidator
}

func (h *MediaStreamHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Server == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "media stream not configured"})
		return
	}
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.AbortWithStatusJSON(http.StatusUpgradeRequired, gin.H{"error": "websocket upgrade required"})
		return
	}
	if h.Signatures != nil && !h.Signatures.Valid(c.Request) {
		log.Warn("media stream signature rejected")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	ws, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Warn("media stream upgrade failed", "err", err)
		return
	}
	h.Server.ServeStream(c.Request.Context(), ws)
}
