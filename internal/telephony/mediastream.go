package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame marks a carrier frame that could not be decoded. The frame
// is dropped and the stream continues.
var ErrMalformedFrame = errors.New("telephony: malformed media stream frame")

// CarrierEvent is one of Connected, Start, Media, Stop, Mark, DTMF or Unrecognized.
type CarrierEvent interface {
	carrierEvent()
}

type Connected struct {
	Protocol string
	Version  string
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Start opens the stream. CustomParameters are the <Parameter> values from the TwiML.
type Start struct {
	StreamSID        string
	CallSID          string
	AccountSID       string
	Tracks           []string
	MediaFormat      MediaFormat
	CustomParameters map[string]string
}

// Media carries one base64 audio chunk, mu-law 8 kHz for the default stream.
type Media struct {
	StreamSID string
	Track     string
	Chunk     string
	Timestamp string
	Payload   string
}

type Stop struct {
	StreamSID string
	CallSID   string
}

type Mark struct {
	StreamSID string
	Name      string
}

type DTMF struct {
	StreamSID string
	Track     string
	Digit     string
}

type Unrecognized struct {
	Event string
}

func (Connected) carrierEvent()    {}
func (Start) carrierEvent()        {}
func (Media) carrierEvent()        {}
func (Stop) carrierEvent()         {}
func (Mark) carrierEvent()         {}
func (DTMF) carrierEvent()         {}
func (Unrecognized) carrierEvent() {}

type wireFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	Version   string `json:"version,omitempty"`

	Start *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		AccountSID       string            `json:"accountSid"`
		Tracks           []string          `json:"tracks"`
		MediaFormat      MediaFormat       `json:"mediaFormat"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`

	Media *wireMedia `json:"media,omitempty"`

	Stop *struct {
		CallSID string `json:"callSid"`
	} `json:"stop,omitempty"`

	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`

	DTMF *struct {
		Track string `json:"track"`
		Digit string `json:"digit"`
	} `json:"dtmf,omitempty"`
}

type wireMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// ParseCarrierEvent decodes one media stream frame. Decode failures wrap ErrMalformedFrame.
func ParseCarrierEvent(data []byte) (CarrierEvent, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Event {
	case "":
		return nil, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	case "connected":
		return Connected{Protocol: f.Protocol, Version: f.Version}, nil
	case "start":
		if f.Start == nil {
			return nil, fmt.Errorf("%w: start without body", ErrMalformedFrame)
		}
		sid := f.Start.StreamSID
		if sid == "" {
			sid = f.StreamSID
		}
		return Start{
			StreamSID:        sid,
			CallSID:          f.Start.CallSID,
			AccountSID:       f.Start.AccountSID,
			Tracks:           f.Start.Tracks,
			MediaFormat:      f.Start.MediaFormat,
			CustomParameters: f.Start.CustomParameters,
		}, nil
	case "media":
		if f.Media == nil {
			return nil, fmt.Errorf("%w: media without body", ErrMalformedFrame)
		}
		return Media{
			StreamSID: f.StreamSID,
			Track:     f.Media.Track,
			Chunk:     f.Media.Chunk,
			Timestamp: f.Media.Timestamp,
			Payload:   f.Media.Payload,
		}, nil
	case "stop":
		s := Stop{StreamSID: f.StreamSID}
		if f.Stop != nil {
			s.CallSID = f.Stop.CallSID
		}
		return s, nil
	case "mark":
		m := Mark{StreamSID: f.StreamSID}
		if f.Mark != nil {
			m.Name = f.Mark.Name
		}
		return m, nil
	case "dtmf":
		d := DTMF{StreamSID: f.StreamSID}
		if f.DTMF != nil {
			d.Track, d.Digit = f.DTMF.Track, f.DTMF.Digit
		}
		return d, nil
	default:
		return Unrecognized{Event: f.Event}, nil
	}
}

// MarshalMedia builds an outbound media frame that plays payload to the caller.
func MarshalMedia(streamSID, payload string) ([]byte, error) {
	return json.Marshal(struct {
		Event     string    `json:"event"`
		StreamSID string    `json:"streamSid"`
		Media     wireMedia `json:"media"`
	}{"media", streamSID, wireMedia{Payload: payload}})
}

// MarshalClear builds a frame that discards audio the carrier has buffered but not yet played.
func MarshalClear(streamSID string) ([]byte, error) {
	return json.Marshal(struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
	}{"clear", streamSID})
}
