package bridge

import (
	"strings"
	"sync"
)

// State is the lifecycle of one bridged call.
//
//	idle -> connecting -> configuring -> active -> ended
//
// Any state may move to ended. ended is terminal.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConfiguring
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// End reasons, also used as metric labels.
const (
	ReasonCarrierStop    = "carrier_stop"
	ReasonCarrierClosed  = "carrier_closed"
	ReasonProviderClosed = "provider_closed"
	ReasonProviderFailed = "provider_failed"
	ReasonShutdown       = "shutdown"
	ReasonInternalError  = "internal_error"
)

// ToolCalls accumulates streamed function-call arguments per call id.
type ToolCalls struct {
	mu      sync.Mutex
	pending map[string]*strings.Builder
}

func NewToolCalls() *ToolCalls {
	return &ToolCalls{pending: map[string]*strings.Builder{}}
}

// Append adds a fragment for callID. Fragments are kept in call order.
func (t *ToolCalls) Append(callID, fragment string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.pending[callID]
	if !ok {
		b = &strings.Builder{}
		t.pending[callID] = b
	}
	b.WriteString(fragment)
}

// Complete returns the accumulated arguments for callID and forgets it. When no
// fragments arrived, fallback (the done event's own arguments) is returned.
func (t *ToolCalls) Complete(callID, fallback string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.pending[callID]
	delete(t.pending, callID)
	if !ok || b.Len() == 0 {
		return fallback
	}
	return b.String()
}

// Pending is the number of calls still accumulating.
func (t *ToolCalls) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
