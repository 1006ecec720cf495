package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"voice-agent-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// InboundCallRequest is a carrier voice webhook reduced to what admission needs.
type InboundCallRequest struct {
	// ProviderCallID is the carrier's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`

	From string `json:"from"`
	To   string `json:"to"`

	OccurredAt time.Time `json:"occurred_at"`

	// RawPayload is optional for debugging; store as JSON string.
	RawPayload string `json:"raw_payload,omitempty"`
}

type InboundCallAction string

const (
	InboundCallActionReject  InboundCallAction = "reject"
	InboundCallActionConnect InboundCallAction = "connect"
	InboundCallActionHangup  InboundCallAction = "hangup"
)

// InboundCallResult drives the TwiML answer.
type InboundCallResult struct {
	Action InboundCallAction `json:"action"`

	// Greeting is spoken before the stream opens (connect only).
	Greeting string `json:"greeting,omitempty"`
	// StreamURL is the media-stream WebSocket the carrier should open (connect only).
	StreamURL string `json:"stream_url,omitempty"`
	// Parameters are echoed back in the stream's start event.
	Parameters map[string]string `json:"parameters,omitempty"`

	// RejectReason is "busy" or "rejected" (reject only).
	RejectReason string `json:"reject_reason,omitempty"`
}

// Admission decides whether another call may be bridged right now.
type Admission interface {
	Admit(ctx context.Context, req InboundCallRequest) (bool, error)
	// Release frees the slot held by callSID. Releasing an unknown call is a no-op.
	Release(ctx context.Context, callSID string) error
}

// Unlimited admits every call.
type Unlimited struct{}

func (Unlimited) Admit(ctx context.Context, req InboundCallRequest) (bool, error) { return true, nil }
func (Unlimited) Release(ctx context.Context, callSID string) error               { return nil }

const (
	activeCallsKey    = "calls:active"
	admittedKeyPrefix = "calls:admitted:"
)

// RedisAdmission caps concurrent calls across all API instances with a shared counter.
// Each admitted call also gets a marker key so that only admitted calls release a slot.
type RedisAdmission struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisAdmission(rdb *redis.Client, limit int, ttl time.Duration) *RedisAdmission {
	return &RedisAdmission{rdb: rdb, limit: limit, ttl: ttl}
}

func (a *RedisAdmission) Admit(ctx context.Context, req InboundCallRequest) (bool, error) {
	if req.ProviderCallID == "" {
		return false, errors.New("telephony: provider call id required")
	}
	ok, err := utils.AcquireConcurrencyCap(ctx, a.rdb, activeCallsKey, a.limit, a.ttl)
	if err != nil || !ok {
		return false, err
	}
	if err := a.rdb.Set(ctx, admittedKeyPrefix+req.ProviderCallID, "1", a.ttl).Err(); err != nil {
		_ = utils.ReleaseConcurrencyCap(ctx, a.rdb, activeCallsKey)
		return false, fmt.Errorf("mark admitted call: %w", err)
	}
	return true, nil
}

func (a *RedisAdmission) Release(ctx context.Context, callSID string) error {
	if callSID == "" {
		return nil
	}
	n, err := a.rdb.Del(ctx, admittedKeyPrefix+callSID).Result()
	if err != nil {
		return fmt.Errorf("clear admitted call: %w", err)
	}
	if n == 0 {
		return nil
	}
	return utils.ReleaseConcurrencyCap(ctx, a.rdb, activeCallsKey)
}

// Router answers inbound calls: connect to the media stream, or reject when full.
type Router struct {
	Admission Admission
	Greeting  string

	// PublicURL is the externally visible base URL. When empty the stream URL is
	// derived from the webhook request host.
	PublicURL string

	Log *slog.Logger
}

// MediaStreamPath is where the carrier opens the bidirectional audio stream.
const MediaStreamPath = "/media-stream"

// Route admits or rejects the call, or hangs up when no stream URL can be built. Admission failures fail open: a redis outage
// should not take the phone line down.
func (r Router) Route(ctx context.Context, req InboundCallRequest, requestHost string) (InboundCallResult, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	adm := r.Admission
	if adm == nil {
		adm = Unlimited{}
	}

	ok, err := adm.Admit(ctx, req)
	if err != nil {
		log.Warn("call admission failed; admitting", "call_sid", req.ProviderCallID, "err", err)
		ok = true
	}
	if !ok {
		log.Info("call rejected: concurrent call cap reached", "call_sid", req.ProviderCallID)
		return InboundCallResult{Action: InboundCallActionReject, RejectReason: "busy"}, nil
	}

	streamURL, err := StreamURL(r.PublicURL, requestHost)
	if err != nil {
		// nowhere to stream to; end the call cleanly instead of failing the webhook
		log.Error("stream url unavailable; hanging up", "call_sid", req.ProviderCallID, "err", err)
		_ = adm.Release(ctx, req.ProviderCallID)
		return InboundCallResult{Action: InboundCallActionHangup}, nil
	}
	res := InboundCallResult{
		Action:    InboundCallActionConnect,
		Greeting:  r.Greeting,
		StreamURL: streamURL,
	}
	if req.ProviderCallID != "" {
		res.Parameters = map[string]string{"callSid": req.ProviderCallID}
	}
	return res, nil
}

// StreamURL builds the wss:// media stream URL from the public base URL or the request host.
func StreamURL(publicURL, requestHost string) (string, error) {
	if publicURL == "" {
		host := strings.TrimSpace(requestHost)
		if host == "" {
			return "", errors.New("telephony: cannot derive stream url without host")
		}
		return "wss://" + host + MediaStreamPath, nil
	}

	u, err := url.Parse(publicURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("telephony: invalid public url %q", publicURL)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + MediaStreamPath
	u.RawQuery = ""
	return u.String(), nil
}
