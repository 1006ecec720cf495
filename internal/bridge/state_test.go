package bridge

import (
	"testing"

	"voice-agent-platform/internal/telephony"
)

func mediaTo(streamSID string) telephony.Media {
	return telephony.Media{StreamSID: streamSID, Track: "inbound", Payload: "AAAA"}
}

func TestToolCallsConcatenateInOrder(t *testing.T) {
	tc := NewToolCalls()
	tc.Append("a", `{"name":"A`)
	tc.Append("b", `{"x":`)
	tc.Append("a", `lice","guests":2}`)

	if got := tc.Complete("a", "ignored"); got != `{"name":"Alice","guests":2}` {
		t.Fatalf("unexpected arguments %q", got)
	}
	if tc.Pending() != 1 {
		t.Fatalf("expected one pending call")
	}
	if got := tc.Complete("a", "fallback"); got != "fallback" {
		t.Fatalf("completed call must be forgotten, got %q", got)
	}
}

func TestToolCallsFallbackWithoutFragments(t *testing.T) {
	tc := NewToolCalls()
	if got := tc.Complete("solo", `{"name":"Bob"}`); got != `{"name":"Bob"}` {
		t.Fatalf("unexpected arguments %q", got)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:        "idle",
		StateConnecting:  "connecting",
		StateConfiguring: "configuring",
		StateActive:      "active",
		StateEnded:       "ended",
		State(99):        "unknown",
	} {
		if s.String() != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
