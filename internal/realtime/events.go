package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent marks a frame that could not be decoded. The frame should be
// dropped; the connection itself is still usable.
var ErrMalformedEvent = errors.New("realtime: malformed event")

// Client event type names.
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioBufferAppend = "input_audio_buffer.append"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
)

// Server event type names.
const (
	TypeSessionCreated             = "session.created"
	TypeSessionUpdated             = "session.updated"
	TypeResponseAudioDelta         = "response.audio.delta"
	TypeResponseAudioDone          = "response.audio.done"
	TypeFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
	TypeFunctionCallArgumentsDone  = "response.function_call_arguments.done"
	TypeInputTranscriptCompleted   = "conversation.item.input_audio_transcription.completed"
	TypeAudioTranscriptDone        = "response.audio_transcript.done"
	TypeSpeechStarted              = "input_audio_buffer.speech_started"
	TypeError                      = "error"
)

/* ===================== CLIENT EVENTS ===================== */

// ClientEvent is one of SessionUpdate, InputAudioAppend, FunctionCallOutput, ResponseCreate.
type ClientEvent interface {
	clientEvent()
}

type SessionUpdate struct {
	Session SessionConfig
}

// InputAudioAppend carries one base64 audio chunk in the session's input format.
type InputAudioAppend struct {
	Audio string
}

// FunctionCallOutput reports a tool result back into the conversation.
type FunctionCallOutput struct {
	CallID string
	Output string
}

type ResponseCreate struct{}

func (SessionUpdate) clientEvent()      {}
func (InputAudioAppend) clientEvent()   {}
func (FunctionCallOutput) clientEvent() {}
func (ResponseCreate) clientEvent()     {}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// MarshalClientEvent encodes ev as a provider wire frame.
func MarshalClientEvent(ev ClientEvent) ([]byte, error) {
	switch e := ev.(type) {
	case SessionUpdate:
		return json.Marshal(struct {
			Type    string        `json:"type"`
			Session SessionConfig `json:"session"`
		}{TypeSessionUpdate, e.Session})
	case InputAudioAppend:
		return json.Marshal(struct {
			Type  string `json:"type"`
			Audio string `json:"audio"`
		}{TypeInputAudioBufferAppend, e.Audio})
	case FunctionCallOutput:
		return json.Marshal(struct {
			Type string           `json:"type"`
			Item conversationItem `json:"item"`
		}{TypeConversationItemCreate, conversationItem{Type: "function_call_output", CallID: e.CallID, Output: e.Output}})
	case ResponseCreate:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{TypeResponseCreate})
	default:
		return nil, fmt.Errorf("realtime: unsupported client event %T", ev)
	}
}

/* ===================== SERVER EVENTS ===================== */

// ServerEvent is one of the concrete event types below, or Unrecognized.
type ServerEvent interface {
	serverEvent()
}

type SessionCreated struct {
	SessionID string
	Model     string
}

type SessionUpdated struct {
	SessionID string
}

// AudioDelta carries base64 audio in the session's output format.
type AudioDelta struct {
	ResponseID string
	ItemID     string
	Delta      string
}

type AudioDone struct {
	ResponseID string
	ItemID     string
}

type FunctionCallArgumentsDelta struct {
	CallID string
	Delta  string
}

// FunctionCallArgumentsDone marks the end of a tool call. Arguments holds the
// complete JSON text when the provider sends it.
type FunctionCallArgumentsDone struct {
	CallID    string
	Name      string
	Arguments string
}

type InputTranscriptCompleted struct {
	ItemID     string
	Transcript string
}

type AudioTranscriptDone struct {
	ResponseID string
	Transcript string
}

type SpeechStarted struct {
	ItemID       string
	AudioStartMs int
}

// Error is a provider-reported error. It does not close the session.
type Error struct {
	Kind    string
	Code    string
	Message string
	Param   string
	EventID string
}

// Unrecognized is any well-formed event whose type the bridge does not handle.
type Unrecognized struct {
	Type string
	Raw  json.RawMessage
}

func (SessionCreated) serverEvent()             {}
func (SessionUpdated) serverEvent()             {}
func (AudioDelta) serverEvent()                 {}
func (AudioDone) serverEvent()                  {}
func (FunctionCallArgumentsDelta) serverEvent() {}
func (FunctionCallArgumentsDone) serverEvent()  {}
func (InputTranscriptCompleted) serverEvent()   {}
func (AudioTranscriptDone) serverEvent()        {}
func (SpeechStarted) serverEvent()              {}
func (Error) serverEvent()                      {}
func (Unrecognized) serverEvent()               {}

func (e Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// wireServerEvent is the union of fields used by the handled server events.
type wireServerEvent struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	CallID       string `json:"call_id"`
	Name         string `json:"name"`
	Delta        string `json:"delta"`
	Arguments    string `json:"arguments"`
	Transcript   string `json:"transcript"`
	AudioStartMs int    `json:"audio_start_ms"`
	Session      *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"session"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
		EventID string `json:"event_id"`
	} `json:"error"`
}

// ParseServerEvent decodes one provider frame. Decode failures wrap ErrMalformedEvent.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var w wireServerEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	switch w.Type {
	case TypeSessionCreated, TypeSessionUpdated:
		var id, model string
		if w.Session != nil {
			id, model = w.Session.ID, w.Session.Model
		}
		if w.Type == TypeSessionCreated {
			return SessionCreated{SessionID: id, Model: model}, nil
		}
		return SessionUpdated{SessionID: id}, nil
	case TypeResponseAudioDelta:
		return AudioDelta{ResponseID: w.ResponseID, ItemID: w.ItemID, Delta: w.Delta}, nil
	case TypeResponseAudioDone:
		return AudioDone{ResponseID: w.ResponseID, ItemID: w.ItemID}, nil
	case TypeFunctionCallArgumentsDelta:
		if w.CallID == "" {
			return nil, fmt.Errorf("%w: %s without call_id", ErrMalformedEvent, w.Type)
		}
		return FunctionCallArgumentsDelta{CallID: w.CallID, Delta: w.Delta}, nil
	case TypeFunctionCallArgumentsDone:
		if w.CallID == "" {
			return nil, fmt.Errorf("%w: %s without call_id", ErrMalformedEvent, w.Type)
		}
		return FunctionCallArgumentsDone{CallID: w.CallID, Name: w.Name, Arguments: w.Arguments}, nil
	case TypeInputTranscriptCompleted:
		return InputTranscriptCompleted{ItemID: w.ItemID, Transcript: w.Transcript}, nil
	case TypeAudioTranscriptDone:
		return AudioTranscriptDone{ResponseID: w.ResponseID, Transcript: w.Transcript}, nil
	case TypeSpeechStarted:
		return SpeechStarted{ItemID: w.ItemID, AudioStartMs: w.AudioStartMs}, nil
	case TypeError:
		e := Error{EventID: w.EventID}
		if w.Error != nil {
			e.Kind, e.Code, e.Message, e.Param = w.Error.Type, w.Error.Code, w.Error.Message, w.Error.Param
			if w.Error.EventID != "" {
				e.EventID = w.Error.EventID
			}
		}
		return e, nil
	default:
		return Unrecognized{Type: w.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
