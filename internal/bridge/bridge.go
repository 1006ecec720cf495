// Package bridge relays one phone call between the carrier media stream and the
// speech provider, and runs the tool calls the model makes along the way.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voice-agent-platform/internal/audio"
	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/metrics"
	"voice-agent-platform/internal/realtime"
	"voice-agent-platform/internal/records"
	"voice-agent-platform/internal/reservations"
	"voice-agent-platform/internal/telephony"
)

// CarrierConn is the carrier side of a call. *websocket.Conn satisfies it.
type CarrierConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ProviderConn is one speech provider session. *realtime.Conn satisfies it.
type ProviderConn interface {
	Send(ev realtime.ClientEvent) error
	Read() (realtime.ServerEvent, error)
	Close() error
}

type ProviderDialer interface {
	Dial(ctx context.Context) (ProviderConn, error)
}

// DialFunc adapts a function to ProviderDialer.
type DialFunc func(ctx context.Context) (ProviderConn, error)

func (f DialFunc) Dial(ctx context.Context) (ProviderConn, error) { return f(ctx) }

// RealtimeDialer adapts the realtime client dialer.
func RealtimeDialer(d *realtime.Dialer) ProviderDialer {
	return DialFunc(func(ctx context.Context) (ProviderConn, error) {
		conn, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// ToolRunner executes create_reservation calls and supplies the restaurant profile.
// *reservations.Service satisfies it.
type ToolRunner interface {
	Handle(ctx context.Context, rawArgs, conversationID string) reservations.ToolResult
	AgentConfig(ctx context.Context) *records.AgentConfig
}

const (
	defaultFinalizeWait = 5 * time.Second
	toolTimeout         = 10 * time.Second
	storeTimeout        = 5 * time.Second
)

// Speaker values for Transcript.
const (
	SpeakerCaller = "caller"
	SpeakerAgent  = "agent"
)

type Transcript struct {
	CallID         string
	ConversationID string
	Speaker        string
	Text           string
}

// Server bridges carrier media streams. Calls are independent: a failure in one
// never reaches another.
type Server struct {
	Dialer        ProviderDialer
	Conversations records.ConversationStore
	Tools         ToolRunner
	Admission     telephony.Admission
	Realtime      config.RealtimeConfig
	Metrics       *metrics.Metrics
	Log           *slog.Logger

	// FinalizeWait bounds how long call end waits for the conversation record insert.
	FinalizeWait time.Duration
	Now          func() time.Time

	// OnTranscript, when set, receives finished utterances from both parties.
	// It runs on the provider read loop and must not block.
	OnTranscript func(Transcript)

	mu    sync.Mutex
	calls map[string]*Call
}

// ServeStream implements telephony.StreamServer.
func (s *Server) ServeStream(ctx context.Context, ws *websocket.Conn) {
	s.Serve(ctx, ws)
}

// Serve runs one call on carrier and returns once both legs are closed, the
// conversation record is finalized and background tool work has finished.
func (s *Server) Serve(ctx context.Context, carrier CarrierConn) {
	c, err := s.newCall(ctx, carrier)
	if err != nil {
		s.logger().Error("call setup failed", "err", err)
		_ = carrier.Close()
		return
	}
	s.track(c)
	defer s.untrack(c)

	s.Metrics.CallStarted()
	c.log.Info("media stream connected")

	c.readCarrier()
	c.end(ReasonCarrierClosed)
	c.tasks.Wait()

	c.release()
	reason, duration := c.summary()
	s.Metrics.CallEnded(reason, duration.Seconds())
	c.log.Info("call ended", "reason", reason, "duration", duration.Round(time.Millisecond).String())
}

// Shutdown ends every active call and waits for them to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	active := make([]*Call, 0, len(s.calls))
	for _, c := range s.calls {
		active = append(active, c)
	}
	s.mu.Unlock()

	for _, c := range active {
		c.end(ReasonShutdown)
	}
	for _, c := range active {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ActiveCalls is the number of calls this server is bridging.
func (s *Server) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Server) newCall(ctx context.Context, carrier CarrierConn) (*Call, error) {
	codec, err := audio.NewAdapter(audio.Format(s.Realtime.AudioFormat))
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	callCtx, cancel := context.WithCancel(ctx)
	return &Call{
		id:        id,
		srv:       s,
		log:       s.logger().With("call_id", id),
		carrier:   carrier,
		codec:     codec,
		tools:     NewToolCalls(),
		ctx:       callCtx,
		cancel:    cancel,
		startedAt: s.now(),
		convReady: make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

func (s *Server) track(c *Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]*Call{}
	}
	s.calls[c.id] = c
}

func (s *Server) untrack(c *Call) {
	s.mu.Lock()
	delete(s.calls, c.id)
	s.mu.Unlock()
	close(c.done)
}

func (s *Server) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Server) finalizeWait() time.Duration {
	if s.FinalizeWait <= 0 {
		return defaultFinalizeWait
	}
	return s.FinalizeWait
}
