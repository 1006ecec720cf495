package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voice-agent-platform/internal/audio"
	"voice-agent-platform/internal/metrics"
	"voice-agent-platform/internal/realtime"
	"voice-agent-platform/internal/records"
	"voice-agent-platform/internal/reservations"
	"voice-agent-platform/internal/telephony"
)

// maxBacklog bounds carrier audio held while the provider session is being set
// up. At 20ms per frame this is one second; older frames are dropped first.
const maxBacklog = 50

const carrierCloseWait = time.Second

// Call is the state of one bridged call. The carrier read loop runs on the
// Serve goroutine and the provider read loop on its own; all shared fields
// are guarded by mu.
type Call struct {
	id      string
	srv     *Server
	carrier CarrierConn
	codec   *audio.Adapter
	tools   *ToolCalls

	ctx    context.Context
	cancel context.CancelFunc

	// carrier writes come from the provider loop and tool tasks
	writeMu sync.Mutex
	// audioMu keeps provider-bound audio in receipt order across backlog flushes
	audioMu sync.Mutex

	mu             sync.Mutex
	log            *slog.Logger
	state          State
	streamSID      string
	callSID        string
	provider       ProviderConn
	backlog        []string
	convStarted    bool
	conversationID string
	startedAt      time.Time
	endedAt        time.Time
	endReason      string

	convReady   chan struct{}
	carrierOnce sync.Once
	tasks       sync.WaitGroup
	done        chan struct{}
}

// State reports the current lifecycle state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) ended() bool {
	return c.State() == StateEnded
}

// spawn runs fn on a tracked goroutine. A panic is logged and, when fatal is
// set, ends the call.
func (c *Call) spawn(name string, fatal bool, fn func()) {
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger().Error("bridge task panic", "task", name, "panic", r)
				if fatal {
					c.end(ReasonInternalError)
				}
			}
		}()
		fn()
	}()
}

func (c *Call) logger() *slog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

func (c *Call) readCarrier() {
	defer func() {
		if r := recover(); r != nil {
			c.logger().Error("carrier loop panic", "panic", r)
			c.end(ReasonInternalError)
		}
	}()

	for {
		mt, data, err := c.carrier.ReadMessage()
		if err != nil {
			if c.ended() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger().Info("carrier closed the media stream")
			} else {
				c.logger().Warn("carrier read failed", "err", err)
			}
			c.end(ReasonCarrierClosed)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		ev, err := telephony.ParseCarrierEvent(data)
		if err != nil {
			c.logger().Warn("dropping carrier frame", "err", err)
			continue
		}

		switch e := ev.(type) {
		case telephony.Connected:
			c.logger().Debug("carrier connected", "protocol", e.Protocol, "version", e.Version)
		case telephony.Start:
			c.onStart(e)
		case telephony.Media:
			c.onMedia(e)
		case telephony.Stop:
			c.logger().Info("carrier stopped the stream")
			c.end(ReasonCarrierStop)
			return
		case telephony.Mark:
			c.logger().Debug("carrier mark", "name", e.Name)
		case telephony.DTMF:
			c.logger().Info("caller pressed a key", "digit", e.Digit)
		case telephony.Unrecognized:
			c.logger().Debug("ignoring carrier event", "event", e.Event)
		}

		if c.ended() {
			return
		}
	}
}

func (c *Call) onStart(e telephony.Start) {
	callSID := e.CallSID
	if callSID == "" {
		callSID = e.CustomParameters["callSid"]
	}

	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	if e.StreamSID != "" {
		c.streamSID = e.StreamSID
	}
	if callSID != "" {
		c.callSID = callSID
	}
	c.log = c.log.With("stream_sid", c.streamSID, "call_sid", c.callSID)
	c.mu.Unlock()

	c.logger().Info("media stream started", "encoding", e.MediaFormat.Encoding, "sample_rate", e.MediaFormat.SampleRate)
	c.ensureConversation()
	c.ensureProvider()
}

func (c *Call) onMedia(e telephony.Media) {
	if e.Track != "" && e.Track != "inbound" {
		return
	}

	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	if c.streamSID == "" && e.StreamSID != "" {
		c.streamSID = e.StreamSID
		c.log = c.log.With("stream_sid", c.streamSID)
		c.log.Warn("media before start, stream id recovered from media")
	}
	c.mu.Unlock()

	c.ensureConversation()
	c.ensureProvider()

	payload, err := c.codec.ToProvider(e.Payload)
	if err != nil {
		c.logger().Warn("dropping undecodable carrier audio", "err", err)
		return
	}
	c.forwardAudio(payload)
}

// ensureConversation inserts the conversation record once, in the background.
func (c *Call) ensureConversation() {
	c.mu.Lock()
	if c.convStarted || c.srv.Conversations == nil {
		c.mu.Unlock()
		return
	}
	c.convStarted = true
	startedAt := c.startedAt
	c.mu.Unlock()

	c.spawn("create conversation", false, func() {
		defer close(c.convReady)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), storeTimeout)
		defer cancel()

		conv, err := c.srv.Conversations.CreateConversation(ctx, startedAt)
		if err != nil {
			c.logger().Error("create conversation failed", "err", err)
			return
		}
		c.mu.Lock()
		c.conversationID = conv.ID
		c.log = c.log.With("conversation_id", conv.ID)
		c.mu.Unlock()
	})
}

func (c *Call) transcript(speaker, text string) {
	if c.srv.OnTranscript == nil || text == "" {
		return
	}
	c.mu.Lock()
	convID := c.conversationID
	c.mu.Unlock()
	c.srv.OnTranscript(Transcript{CallID: c.id, ConversationID: convID, Speaker: speaker, Text: text})
}

// waitConversation returns the conversation id, waiting up to the finalize
// bound for an insert in flight. Empty when there is no record.
func (c *Call) waitConversation() string {
	c.mu.Lock()
	started := c.convStarted
	c.mu.Unlock()
	if !started {
		return ""
	}

	t := time.NewTimer(c.srv.finalizeWait())
	defer t.Stop()
	select {
	case <-c.convReady:
	case <-t.C:
		c.logger().Warn("conversation record not ready")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// ensureProvider starts the provider session at most once per call.
func (c *Call) ensureProvider() {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.spawn("provider", true, c.runProvider)
}

func (c *Call) runProvider() {
	if c.srv.Dialer == nil {
		c.logger().Error("no speech provider configured")
		c.end(ReasonProviderFailed)
		return
	}
	conn, err := c.srv.Dialer.Dial(c.ctx)
	if err != nil {
		c.srv.Metrics.ProviderError("dial")
		if !c.ended() {
			c.logger().Error("speech provider connect failed", "err", err)
		}
		c.end(ReasonProviderFailed)
		return
	}

	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.provider = conn
	c.mu.Unlock()
	c.logger().Info("speech provider connected")

	c.readProvider(conn)
}

func (c *Call) readProvider(conn ProviderConn) {
	for {
		ev, err := conn.Read()
		if err != nil {
			if errors.Is(err, realtime.ErrMalformedEvent) {
				c.logger().Warn("dropping provider frame", "err", err)
				continue
			}
			if c.ended() {
				return
			}
			if realtime.IsNormalClose(err) {
				c.logger().Info("speech provider closed the session")
			} else {
				c.logger().Warn("speech provider read failed", "err", err)
			}
			c.end(ReasonProviderClosed)
			return
		}
		c.handleProviderEvent(conn, ev)
	}
}

func (c *Call) handleProviderEvent(conn ProviderConn, ev realtime.ServerEvent) {
	switch e := ev.(type) {
	case realtime.SessionCreated:
		c.configure(conn, e)
	case realtime.SessionUpdated:
		c.logger().Debug("speech session configured")
	case realtime.AudioDelta:
		c.sendToCarrier(e.Delta)
	case realtime.AudioDone:
		c.logger().Debug("agent finished speaking", "response_id", e.ResponseID)
	case realtime.SpeechStarted:
		c.clearCarrier()
	case realtime.FunctionCallArgumentsDelta:
		c.tools.Append(e.CallID, e.Delta)
	case realtime.FunctionCallArgumentsDone:
		args := c.tools.Complete(e.CallID, e.Arguments)
		c.runTool(conn, e.CallID, e.Name, args)
	case realtime.InputTranscriptCompleted:
		c.logger().Info("caller said", "transcript", e.Transcript)
		c.transcript(SpeakerCaller, e.Transcript)
	case realtime.AudioTranscriptDone:
		c.logger().Info("agent said", "transcript", e.Transcript)
		c.transcript(SpeakerAgent, e.Transcript)
	case realtime.Error:
		c.srv.Metrics.ProviderError(e.Kind)
		c.logger().Warn("speech provider error", "type", e.Kind, "code", e.Code, "message", e.Message)
	case realtime.Unrecognized:
		c.logger().Debug("ignoring provider event", "type", e.Type)
	}
}

// configure pushes session.update once, on the provider's first session.created.
func (c *Call) configure(conn ProviderConn, e realtime.SessionCreated) {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		c.logger().Debug("ignoring repeated session.created", "session_id", e.SessionID)
		return
	}
	c.state = StateConfiguring
	c.mu.Unlock()

	var agent *records.AgentConfig
	if c.srv.Tools != nil {
		ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
		agent = c.srv.Tools.AgentConfig(ctx)
		cancel()
	}

	session := reservations.SessionConfig(c.srv.Realtime, agent, string(c.codec.ProviderFormat()))
	if err := conn.Send(realtime.SessionUpdate{Session: session}); err != nil {
		c.logger().Warn("session.update failed", "err", err)
		c.end(ReasonProviderFailed)
		return
	}

	c.mu.Lock()
	if c.state == StateConfiguring {
		c.state = StateActive
	}
	c.mu.Unlock()
	c.logger().Info("speech session active", "session_id", e.SessionID, "model", e.Model)

	c.flushBacklog()
}

// forwardAudio sends a provider-format payload, or holds it until the session is active.
func (c *Call) forwardAudio(payload string) {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateEnded:
		c.mu.Unlock()
		return
	case StateActive:
	default:
		if len(c.backlog) >= maxBacklog {
			c.backlog = c.backlog[1:]
			c.srv.Metrics.FrameDropped()
		}
		c.backlog = append(c.backlog, payload)
		c.mu.Unlock()
		return
	}
	conn := c.provider
	pending := c.backlog
	c.backlog = nil
	c.mu.Unlock()

	for _, p := range pending {
		c.sendAudio(conn, p)
	}
	c.sendAudio(conn, payload)
}

func (c *Call) flushBacklog() {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	conn := c.provider
	pending := c.backlog
	c.backlog = nil
	c.mu.Unlock()

	for _, p := range pending {
		c.sendAudio(conn, p)
	}
}

func (c *Call) sendAudio(conn ProviderConn, payload string) {
	if err := conn.Send(realtime.InputAudioAppend{Audio: payload}); err != nil {
		// the provider read loop reports the closed session
		c.logger().Debug("provider audio send failed", "err", err)
		return
	}
	c.srv.Metrics.Frame(metrics.ToProvider)
}

func (c *Call) sendToCarrier(delta string) {
	c.mu.Lock()
	sid := c.streamSID
	ended := c.state == StateEnded
	c.mu.Unlock()
	if ended {
		return
	}
	if sid == "" {
		c.logger().Debug("dropping agent audio, stream id unknown")
		return
	}

	payload, err := c.codec.ToCarrier(delta)
	if err != nil {
		c.logger().Warn("dropping undecodable provider audio", "err", err)
		return
	}
	if payload == "" {
		return
	}
	frame, err := telephony.MarshalMedia(sid, payload)
	if err != nil {
		c.logger().Warn("media frame encode failed", "err", err)
		return
	}
	if c.writeCarrier(frame) {
		c.srv.Metrics.Frame(metrics.ToCarrier)
	}
}

// clearCarrier drops agent audio the carrier has queued so the caller can barge in.
func (c *Call) clearCarrier() {
	c.mu.Lock()
	sid := c.streamSID
	c.mu.Unlock()
	if sid == "" {
		return
	}
	frame, err := telephony.MarshalClear(sid)
	if err != nil {
		return
	}
	c.writeCarrier(frame)
}

func (c *Call) writeCarrier(frame []byte) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ended() {
		return false
	}
	if err := c.carrier.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger().Debug("carrier write failed", "err", err)
		return false
	}
	return true
}

// runTool executes a completed function call in the background and reports the
// result to the provider, followed by response.create.
func (c *Call) runTool(conn ProviderConn, callID, name, args string) {
	c.spawn("tool call", false, func() {
		log := c.logger().With("tool_call_id", callID, "tool", name)

		var (
			result  reservations.ToolResult
			outcome string
		)
		switch {
		case c.srv.Tools == nil:
			result = reservations.Failure("reservations are not available")
			outcome = "failure"
		case name != "" && name != reservations.ToolName:
			log.Warn("model called an unknown tool")
			result = reservations.Failure("unknown tool: " + name)
			outcome = "unknown_tool"
		default:
			conversationID := c.waitConversation()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), toolTimeout)
			result = c.srv.Tools.Handle(ctx, args, conversationID)
			cancel()
			outcome = "failure"
			if result.Success {
				outcome = "success"
			}
		}
		c.srv.Metrics.ToolCall(reservations.ToolName, outcome)

		if c.ended() {
			log.Info("call ended before the tool result could be delivered", "success", result.Success)
			return
		}
		if err := conn.Send(realtime.FunctionCallOutput{CallID: callID, Output: result.JSON()}); err != nil {
			log.Warn("tool result send failed", "err", err)
			return
		}
		if err := conn.Send(realtime.ResponseCreate{}); err != nil {
			log.Warn("response.create send failed", "err", err)
			return
		}
		log.Info("tool result delivered", "success", result.Success)
	})
}

// end moves the call to ended exactly once. The conversation record is closed
// out before either socket is closed. Later calls are no-ops.
func (c *Call) end(reason string) {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	c.state = StateEnded
	c.endReason = reason
	c.endedAt = c.srv.now()
	conn := c.provider
	c.backlog = nil
	c.mu.Unlock()

	c.finalizeConversation()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger().Debug("provider close failed", "err", err)
		}
	}
	c.cancel()
	c.closeCarrier()
}

func (c *Call) finalizeConversation() {
	id := c.waitConversation()
	if id == "" {
		return
	}
	c.mu.Lock()
	endedAt := c.endedAt
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), storeTimeout)
	defer cancel()
	if _, err := c.srv.Conversations.CompleteConversation(ctx, id, endedAt); err != nil {
		c.logger().Error("complete conversation failed", "err", err)
	}
}

type controlWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

func (c *Call) closeCarrier() {
	c.carrierOnce.Do(func() {
		if cw, ok := c.carrier.(controlWriter); ok {
			_ = cw.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(carrierCloseWait))
		}
		if err := c.carrier.Close(); err != nil {
			c.logger().Debug("carrier close failed", "err", err)
		}
	})
}

func (c *Call) release() {
	c.mu.Lock()
	callSID := c.callSID
	c.mu.Unlock()
	if callSID == "" || c.srv.Admission == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), storeTimeout)
	defer cancel()
	if err := c.srv.Admission.Release(ctx, callSID); err != nil {
		c.logger().Warn("release call slot failed", "err", err)
	}
}

func (c *Call) summary() (string, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endReason, c.endedAt.Sub(c.startedAt)
}
