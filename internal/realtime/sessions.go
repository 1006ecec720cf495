package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-agent-platform/internal/config"

	"github.com/go-resty/resty/v2"
)

// SessionsClient mints short-lived client secrets so a browser can talk to
// the provider directly without ever seeing the server's API key.
type SessionsClient struct {
	http   *resty.Client
	apiKey string
}

func NewSessionsClient(cfg config.RealtimeConfig) *SessionsClient {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.APIBase).
		SetAuthToken(cfg.APIKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &SessionsClient{http: c, apiKey: cfg.APIKey}
}

// EphemeralSession is what the browser needs to open its own provider session.
type EphemeralSession struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	ClientSecret string    `json:"client_secret"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type createSessionResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Create requests an ephemeral session preconfigured with cfg.
func (c *SessionsClient) Create(ctx context.Context, cfg SessionConfig) (EphemeralSession, error) {
	if c.apiKey == "" {
		return EphemeralSession{}, errors.New("realtime: api key not configured")
	}

	var (
		out    createSessionResponse
		apiErr apiErrorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(cfg).
		SetResult(&out).
		SetError(&apiErr).
		Post("/realtime/sessions")
	if err != nil {
		return EphemeralSession{}, fmt.Errorf("create realtime session: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return EphemeralSession{}, fmt.Errorf("create realtime session: status %d: %s", resp.StatusCode(), msg)
	}
	if out.ClientSecret.Value == "" {
		return EphemeralSession{}, errors.New("create realtime session: response has no client secret")
	}

	s := EphemeralSession{
		ID:           out.ID,
		Model:        out.Model,
		ClientSecret: out.ClientSecret.Value,
	}
	if out.ClientSecret.ExpiresAt > 0 {
		s.ExpiresAt = time.Unix(out.ClientSecret.ExpiresAt, 0).UTC()
	}
	return s, nil
}
