package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"voice-agent-platform/internal/config"

	"github.com/gorilla/websocket"
)

const (
	// Audio deltas are base64 in JSON; one response chunk can be large.
	maxFrameBytes = 8 << 20
	closeWait     = time.Second
)

// Dialer opens provider sessions.
type Dialer struct {
	url     string
	apiKey  string
	model   string
	timeout time.Duration
	ws      *websocket.Dialer
}

func NewDialer(cfg config.RealtimeConfig) *Dialer {
	return &Dialer{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: cfg.HandshakeTimeout,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Subprotocols returns the sub-protocol list carrying the API key. The provider
// accepts the key this way so browsers and servers authenticate identically.
func Subprotocols(apiKey string) []string {
	return []string{
		"realtime",
		"openai-insecure-api-key." + apiKey,
		"openai-beta.realtime-v1",
	}
}

func (d *Dialer) endpoint() (string, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return "", fmt.Errorf("realtime url: %w", err)
	}
	if d.model != "" {
		q := u.Query()
		q.Set("model", d.model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial connects to the provider. The session is not configured yet: callers
// wait for SessionCreated before sending SessionUpdate.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	if d.apiKey == "" {
		return nil, errors.New("realtime: api key not configured")
	}
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, err
	}

	ws := *d.ws
	ws.Subprotocols = Subprotocols(d.apiKey)

	dialCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	conn, resp, err := ws.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("realtime dial: %w", err)
	}
	return NewConn(conn), nil
}

// Conn is one provider session. Send is safe for concurrent use; Read must be
// called from a single goroutine.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(maxFrameBytes)
	return &Conn{ws: ws}
}

func (c *Conn) Send(ev ClientEvent) error {
	b, err := MarshalClientEvent(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Read blocks for the next event. An error wrapping ErrMalformedEvent means the
// frame was dropped and reading may continue; any other error is terminal.
func (c *Conn) Read() (ServerEvent, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return ParseServerEvent(data)
	}
}

// Close sends a close frame and tears the socket down. It is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		// WriteControl may run concurrently with a blocked WriteMessage.
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait),
		)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// IsNormalClose reports whether err is an orderly close from the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
