package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const keepAliveInterval = 25 * time.Second

// Events streams record changes to the dashboard as server-sent events.
func (h Handlers) Events(c *gin.Context) {
	if h.Notifier == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "live updates disabled"})
		return
	}
	ctx := c.Request.Context()
	changes, err := h.Notifier.Subscribe(ctx)
	if err != nil {
		internalError(c, "subscribe failed", err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.Closing:
			return false
		case ch, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent("change", ch)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": h.now()})
			return true
		}
	})
}
